package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// checkTimeout bounds a single health check.
const checkTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// CheckFunc reports the health of one component. A non-nil error marks the
// gate unhealthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker runs the registered component checks.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	version string
}

// NewHealthChecker creates a HealthChecker with no component checks.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc), version: version}
}

// Register adds or replaces the check reported under name.
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check in name order.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	healthy := true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checks[name](cctx)
		cancel()
		if err != nil {
			results[name] = "failed: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	results["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: results, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			requestLogger(r).Debug("health response write failed", "error", err)
		}
	})
}
