package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

type fixedCalls []proxy.CallRecord

func (f fixedCalls) Recent(n int) []proxy.CallRecord {
	if n > len(f) {
		n = len(f)
	}
	return f[:n]
}

func TestCallsHandler(t *testing.T) {
	t.Parallel()

	src := fixedCalls{
		{Interface: "Init", Method: "Add", Decision: proxy.DecisionAllow},
		{Interface: "Init", Method: "Fail", Decision: proxy.DecisionDeny, Reason: "rule no-fail"},
	}
	reg := NewRegistry()
	handler := NewServer(reg, NewMetrics(reg), WithLogger(discardLogger()), WithCallSource(src)).Handler()

	tests := []struct {
		name     string
		method   string
		target   string
		wantCode int
		wantLen  int
	}{
		{"default limit", http.MethodGet, "/calls", http.StatusOK, 2},
		{"explicit limit", http.MethodGet, "/calls?n=1", http.StatusOK, 1},
		{"bad limit", http.MethodGet, "/calls?n=zero", http.StatusBadRequest, -1},
		{"negative limit", http.MethodGet, "/calls?n=-1", http.StatusBadRequest, -1},
		{"wrong method", http.MethodPost, "/calls", http.StatusMethodNotAllowed, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantLen < 0 {
				return
			}
			var got []map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("body is not a JSON array: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
			if got[0]["interface"] != "Init" {
				t.Errorf("first record = %v", got[0])
			}
		})
	}
}

func TestCallsHandler_EmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	callsHandler(fixedCalls(nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls", nil))
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestServer_NoCallSourceNoRoute(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
