// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

const defaultRecentCap = 1000

// CallFilter selects records in Query. Empty fields match everything.
type CallFilter struct {
	Interface string
	Method    string
	Decision  string
	Limit     int
}

// CallLog implements proxy.CallRecorder. Records are written as JSON lines
// to an optional writer and kept in a bounded ring buffer for recent-call
// queries.
type CallLog struct {
	encoder *json.Encoder // nil when records are only buffered
	writer  io.Writer
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []proxy.CallRecord
	cap    int
	// writeErrs counts records that could not be written.
	writeErrs int
}

// NewCallLog creates a call log writing to w, which may be nil. capacity
// sets the ring buffer size (default 1000).
func NewCallLog(w io.Writer, capacity int) *CallLog {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	l := &CallLog{
		writer: w,
		recent: make([]proxy.CallRecord, 0, capacity),
		cap:    capacity,
	}
	if w != nil {
		l.encoder = json.NewEncoder(w)
	}
	return l
}

// RecordCall writes r and adds it to the ring buffer.
func (l *CallLog) RecordCall(r proxy.CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.encoder != nil {
		if err := l.encoder.Encode(r); err != nil {
			l.writeErrs++
		}
	}
	if len(l.recent) >= l.cap {
		// Shift left, drop oldest.
		copy(l.recent, l.recent[1:])
		l.recent[len(l.recent)-1] = r
	} else {
		l.recent = append(l.recent, r)
	}
}

// WriteErrors returns how many records could not be written.
func (l *CallLog) WriteErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErrs
}

// Close closes the writer if it is a file other than stdout or stderr.
func (l *CallLog) Close() error {
	if f, ok := l.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Recent returns the n most recent records, newest first. n <= 0 returns
// everything buffered.
func (l *CallLog) Recent(n int) []proxy.CallRecord {
	return l.Query(CallFilter{Limit: n})
}

// Query returns buffered records matching filter, newest first. Limit
// defaults to, and is capped at, the buffer size.
func (l *CallLog) Query(filter CallFilter) []proxy.CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > l.cap {
		limit = l.cap
	}

	var result []proxy.CallRecord
	for i := len(l.recent) - 1; i >= 0 && len(result) < limit; i-- {
		rec := l.recent[i]
		if filter.Interface != "" && rec.Interface != filter.Interface {
			continue
		}
		if filter.Method != "" && rec.Method != filter.Method {
			continue
		}
		if filter.Decision != "" && !strings.EqualFold(rec.Decision, filter.Decision) {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Compile-time interface verification.
var _ proxy.CallRecorder = (*CallLog)(nil)
