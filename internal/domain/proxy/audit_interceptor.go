package proxy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// Call decisions recorded by the AuditInterceptor.
const (
	DecisionAllow    = "allow"
	DecisionDeny     = "deny"
	DecisionRejected = "rejected"
)

// CallRecord is one audited inbound call.
type CallRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	ConnID        string    `json:"conn_id"`
	Role          string    `json:"role"`
	Interface     string    `json:"interface"`
	Method        string    `json:"method"`
	Cap           uint64    `json:"cap"`
	RequestID     int64     `json:"request_id"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	LatencyMicros int64     `json:"latency_us"`
}

// CallRecorder receives audit records. It is satisfied by the metrics
// adapter and the memory call log.
type CallRecorder interface {
	RecordCall(record CallRecord)
}

// Recorders fans a record out to each recorder in order. Nil entries are
// skipped.
type Recorders []CallRecorder

// RecordCall implements CallRecorder.
func (rs Recorders) RecordCall(record CallRecord) {
	for _, r := range rs {
		if r != nil {
			r.RecordCall(record)
		}
	}
}

// AuditInterceptor records the admission decision of every inbound
// capability call. Chain order: Validation -> Audit -> Policy -> Passthrough.
type AuditInterceptor struct {
	recorder CallRecorder // optional, may be nil
	next     MessageInterceptor
	logger   *slog.Logger
}

// NewAuditInterceptor creates an AuditInterceptor.
func NewAuditInterceptor(recorder CallRecorder, next MessageInterceptor, logger *slog.Logger) *AuditInterceptor {
	return &AuditInterceptor{recorder: recorder, next: next, logger: logger}
}

// Intercept passes msg on and records the outcome. The result of the next
// interceptor is returned unchanged.
func (a *AuditInterceptor) Intercept(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if msg.Direction != wire.Inbound || !msg.IsCapabilityCall() {
		return a.next.Intercept(ctx, msg)
	}

	start := time.Now()
	result, err := a.next.Intercept(ctx, msg)

	record := CallRecord{
		Timestamp:     start,
		ConnID:        msg.ConnID,
		Role:          msg.Role,
		Interface:     msg.Interface(),
		Method:        msg.MethodName(),
		LatencyMicros: time.Since(start).Microseconds(),
		Decision:      DecisionAllow,
	}
	if id, ok := msg.RequestID(); ok {
		record.RequestID = id
	}
	if params, perr := msg.Call(); perr == nil {
		record.Cap = params.Cap
	}
	if err != nil {
		record.Decision = DecisionRejected
		if errors.Is(err, ErrPolicyDenied) {
			record.Decision = DecisionDeny
		}
		record.Reason = err.Error()
	}

	if a.recorder != nil {
		a.recorder.RecordCall(record)
	}
	LoggerFromContext(ctx, a.logger).Debug("call audited",
		"interface", record.Interface,
		"method", record.Method,
		"decision", record.Decision,
		"latency_us", record.LatencyMicros,
	)
	return result, err
}

// Compile-time check that AuditInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*AuditInterceptor)(nil)
