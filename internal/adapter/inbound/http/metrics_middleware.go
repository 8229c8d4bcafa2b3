package http

import (
	"net/http"
	"time"
)

// MetricsMiddleware counts and times requests by endpoint. Prometheus
// scrapes of /metrics pass through uncounted.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)

			path := pathLabel(r.URL.Path)
			metrics.HTTPRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			metrics.HTTPRequestsTotal.WithLabelValues(path, outcome(sw.code)).Inc()
		})
	}
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// outcome folds a status code into "ok" or "error".
func outcome(code int) string {
	if code < http.StatusBadRequest {
		return "ok"
	}
	return "error"
}

// pathLabel bounds label cardinality to the known endpoints.
func pathLabel(path string) string {
	switch path {
	case "/health", "/metrics", "/calls":
		return path
	default:
		return "other"
	}
}
