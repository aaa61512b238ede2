// Package ratelimit enforces per-principal request rates and live-session
// concurrency. State is in-memory and single-process; the gateway runs as
// one instance in front of one data directory, so that is the whole world.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxLiveSessions       int

	// Bounds for the principal map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalState
}

type principalState struct {
	mu sync.Mutex

	bucket bucket

	reqSem  chan struct{}
	liveSem chan struct{}

	lastSeen time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
	primed bool
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalState),
	}
}

// Permit must be released when the guarded work finishes. Release is
// idempotent.
type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest charges one request against the principal's token bucket
// and takes a concurrency slot.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	ps := l.getOrCreate(principal, now)
	ps.touch(now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := ps.take(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}

	if l.cfg.MaxConcurrentRequests > 0 {
		select {
		case ps.reqSem <- struct{}{}:
			return Decision{Allowed: true, Permit: &Permit{release: func() { <-ps.reqSem }}}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireLive takes a live websocket session slot. Live sessions are
// long-lived so they bypass the token bucket and only count concurrency.
func (l *Limiter) AcquireLive(principal string, now time.Time) Decision {
	ps := l.getOrCreate(principal, now)
	ps.touch(now)

	if l.cfg.MaxLiveSessions > 0 {
		select {
		case ps.liveSem <- struct{}{}:
			return Decision{Allowed: true, Permit: &Permit{release: func() { <-ps.liveSem }}}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalState {
	if principal == "" {
		principal = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if ps, ok := l.m[principal]; ok {
		return ps
	}
	ps := &principalState{
		reqSem:   make(chan struct{}, maxInt(1, l.cfg.MaxConcurrentRequests)),
		liveSem:  make(chan struct{}, maxInt(1, l.cfg.MaxLiveSessions)),
		lastSeen: now,
	}
	l.m[principal] = ps
	return ps
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.seen()) > l.cfg.EntryTTL {
			delete(l.m, k)
		}
	}
}

// touch and seen guard lastSeen with the principal's own lock; gcLocked
// reads it while holding only the limiter lock.
func (ps *principalState) touch(now time.Time) {
	ps.mu.Lock()
	ps.lastSeen = now
	ps.mu.Unlock()
}

func (ps *principalState) seen() time.Time {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.lastSeen
}

func (ps *principalState) take(now time.Time, rps float64, burst int) (bool, int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	capacity := float64(burst)
	if !ps.bucket.primed {
		ps.bucket = bucket{tokens: capacity, last: now, primed: true}
	}

	elapsed := now.Sub(ps.bucket.last).Seconds()
	if elapsed > 0 {
		ps.bucket.tokens = math.Min(capacity, ps.bucket.tokens+elapsed*rps)
		ps.bucket.last = now
	}

	if ps.bucket.tokens >= 1.0 {
		ps.bucket.tokens -= 1.0
		return true, 0
	}

	retryAfter := int(math.Ceil((1.0 - ps.bucket.tokens) / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
