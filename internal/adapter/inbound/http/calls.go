package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

// defaultCallsLimit is the number of records /calls returns without ?n=.
const defaultCallsLimit = 50

// CallSource provides recently audited calls.
type CallSource interface {
	Recent(n int) []proxy.CallRecord
}

// callsHandler serves the most recent calls, newest first, as a JSON array.
// ?n= sets how many.
func callsHandler(src CallSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n := defaultCallsLimit
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = parsed
		}

		records := src.Recent(n)
		if records == nil {
			records = []proxy.CallRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			requestLogger(r).Warn("failed to encode calls", "error", err)
		}
	})
}
