// Package lifecycle holds process lifecycle state shared across handlers.
package lifecycle

import "sync/atomic"

// Lifecycle tracks whether the process is draining. Readiness flips to 503
// while draining so load balancers stop routing new work here.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
