package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

func TestCallLog_RecordCall(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewCallLog(buf, 10)

	log.RecordCall(proxy.CallRecord{
		Timestamp: time.Now().UTC(),
		ConnID:    "conn-1",
		Interface: "Init",
		Method:    "Add",
		Cap:       0,
		RequestID: 3,
		Decision:  proxy.DecisionAllow,
	})

	output := buf.String()
	if output == "" {
		t.Fatal("RecordCall() did not write to buffer")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &decoded); err != nil {
		t.Fatalf("Written output is not valid JSON: %v", err)
	}
	if decoded["interface"] != "Init" || decoded["method"] != "Add" || decoded["decision"] != "allow" {
		t.Errorf("decoded = %v", decoded)
	}
	if _, ok := decoded["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
}

func TestCallLog_RecordMultiple(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewCallLog(buf, 10)
	for i := 0; i < 3; i++ {
		log.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Ping", RequestID: int64(i)})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("wrote %d lines, want 3", len(lines))
	}
}

func TestCallLog_NilWriterOnlyBuffers(t *testing.T) {
	t.Parallel()

	log := NewCallLog(nil, 0)
	log.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Ping"})

	if got := len(log.Recent(0)); got != 1 {
		t.Errorf("Recent(0) len = %d, want 1", got)
	}
	if err := log.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestCallLog_RingBuffer(t *testing.T) {
	t.Parallel()

	log := NewCallLog(nil, 3)
	for i := 0; i < 5; i++ {
		log.RecordCall(proxy.CallRecord{RequestID: int64(i)})
	}

	recent := log.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent(10) len = %d, want 3", len(recent))
	}
	// Newest first: 4, 3, 2
	for i, want := range []int64{4, 3, 2} {
		if recent[i].RequestID != want {
			t.Errorf("recent[%d].RequestID = %d, want %d", i, recent[i].RequestID, want)
		}
	}

	if got := log.Recent(2); len(got) != 2 || got[0].RequestID != 4 {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestCallLog_Query(t *testing.T) {
	t.Parallel()

	log := NewCallLog(nil, 10)
	log.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Add", Decision: proxy.DecisionAllow})
	log.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Fail", Decision: proxy.DecisionDeny})
	log.RecordCall(proxy.CallRecord{Interface: "Counter", Method: "Inc", Decision: proxy.DecisionAllow})
	log.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Add", Decision: proxy.DecisionRejected})

	tests := []struct {
		name   string
		filter CallFilter
		want   int
	}{
		{"all", CallFilter{}, 4},
		{"by interface", CallFilter{Interface: "Init"}, 3},
		{"by method", CallFilter{Interface: "Init", Method: "Add"}, 2},
		{"by decision", CallFilter{Decision: "ALLOW"}, 2},
		{"limited", CallFilter{Interface: "Init", Limit: 1}, 1},
		{"no match", CallFilter{Method: "Nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := log.Query(tt.filter); len(got) != tt.want {
				t.Errorf("Query(%+v) len = %d, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCallLog_WriteErrorsStillBuffer(t *testing.T) {
	t.Parallel()

	log := NewCallLog(failingWriter{}, 10)
	log.RecordCall(proxy.CallRecord{Method: "Ping"})

	if log.WriteErrors() != 1 {
		t.Errorf("WriteErrors() = %d, want 1", log.WriteErrors())
	}
	if len(log.Recent(0)) != 1 {
		t.Error("record not buffered after write failure")
	}
}

func TestCallLog_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewCallLog(buf, 1000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.RecordCall(proxy.CallRecord{Method: fmt.Sprintf("m%d", g), RequestID: int64(i)})
			}
		}(g)
	}
	wg.Wait()

	if got := len(log.Recent(0)); got != 400 {
		t.Errorf("Recent(0) len = %d, want 400", got)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 400 {
		t.Errorf("wrote %d lines, want 400", lines)
	}
}
