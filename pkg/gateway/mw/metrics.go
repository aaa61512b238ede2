package mw

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deliberatorium/deliberatorium/pkg/gateway/metrics"
)

// Metrics records per-request counters and latency. Routes with embedded
// keys are collapsed to their prefix to keep label cardinality bounded.
func Metrics(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		m.RecordRequest(r.Method, routeLabel(r.URL.Path), strconv.Itoa(sw.status), time.Since(start))
	})
}

func routeLabel(path string) string {
	for _, prefix := range []string{"/v1/readings/", "/v1/canvas/", "/v1/live/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "*"
		}
	}
	switch path {
	case "/healthz", "/readyz", "/metrics", "/v1/auth/login", "/v1/assemblyai/token",
		"/v1/profile", "/v1/workspace", "/v1/readings":
		return path
	default:
		return "other"
	}
}
