package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// CallContext describes one inbound capability call to a CallPolicy.
type CallContext struct {
	Interface string
	Method    string
	Cap       uint64
	// Args holds the call arguments decoded into plain JSON values.
	Args        []any
	Role        string
	ConnID      string
	RequestTime time.Time
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// CallPolicy decides whether an inbound call may be dispatched.
// It is implemented by the CEL adapter.
type CallPolicy interface {
	Evaluate(ctx context.Context, call CallContext) (Decision, error)
}

// PolicyDenyError carries the reason a call was denied.
type PolicyDenyError struct {
	Interface string
	Method    string
	Reason    string
}

// Error implements the error interface.
func (e *PolicyDenyError) Error() string {
	return fmt.Sprintf("%s.%s denied: %s", e.Interface, e.Method, e.Reason)
}

// Unwrap returns ErrPolicyDenied so errors.Is(err, ErrPolicyDenied) works.
func (e *PolicyDenyError) Unwrap() error {
	return ErrPolicyDenied
}

// PolicyInterceptor evaluates inbound capability calls against a CallPolicy.
// Control frames and responses pass through unchecked.
type PolicyInterceptor struct {
	policy CallPolicy
	next   MessageInterceptor
	logger *slog.Logger
}

// NewPolicyInterceptor creates a PolicyInterceptor.
func NewPolicyInterceptor(policy CallPolicy, next MessageInterceptor, logger *slog.Logger) *PolicyInterceptor {
	return &PolicyInterceptor{policy: policy, next: next, logger: logger}
}

// Intercept blocks calls the policy does not allow.
func (p *PolicyInterceptor) Intercept(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if msg.Direction != wire.Inbound || !msg.IsCapabilityCall() {
		return p.next.Intercept(ctx, msg)
	}

	call, err := buildCallContext(msg)
	if err != nil {
		return nil, NewProtocolError(wire.CodeInvalidParams, "%s: %v", msg.Method(), err)
	}

	decision, err := p.policy.Evaluate(ctx, call)
	if err != nil {
		LoggerFromContext(ctx, p.logger).Error("policy evaluation failed",
			"interface", call.Interface,
			"method", call.Method,
			"error", err,
		)
		return nil, fmt.Errorf("policy evaluation: %w", err)
	}
	if !decision.Allowed {
		LoggerFromContext(ctx, p.logger).Info("call denied by policy",
			"interface", call.Interface,
			"method", call.Method,
			"cap", call.Cap,
			"reason", decision.Reason,
			"conn_id", call.ConnID,
		)
		return nil, &PolicyDenyError{Interface: call.Interface, Method: call.Method, Reason: decision.Reason}
	}

	LoggerFromContext(ctx, p.logger).Debug("call allowed by policy",
		"interface", call.Interface,
		"method", call.Method,
	)
	return p.next.Intercept(ctx, msg)
}

func buildCallContext(msg *wire.Message) (CallContext, error) {
	params, err := msg.Call()
	if err != nil {
		return CallContext{}, err
	}
	args := make([]any, len(params.Args))
	for i, raw := range params.Args {
		if err := json.Unmarshal(raw, &args[i]); err != nil {
			return CallContext{}, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return CallContext{
		Interface:   msg.Interface(),
		Method:      msg.MethodName(),
		Cap:         params.Cap,
		Args:        args,
		Role:        msg.Role,
		ConnID:      msg.ConnID,
		RequestTime: msg.Timestamp,
	}, nil
}

// Compile-time check that PolicyInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*PolicyInterceptor)(nil)
