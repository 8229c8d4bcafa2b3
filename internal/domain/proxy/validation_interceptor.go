package proxy

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// MaxCallArgs bounds the argument count of one capability call.
const MaxCallArgs = 256

// ValidationInterceptor checks the structure of inbound frames. It must be
// first in the chain so later interceptors can rely on msg.Call().
type ValidationInterceptor struct {
	next   MessageInterceptor
	logger *slog.Logger
}

// NewValidationInterceptor creates a ValidationInterceptor wrapping next.
func NewValidationInterceptor(next MessageInterceptor, logger *slog.Logger) *ValidationInterceptor {
	return &ValidationInterceptor{next: next, logger: logger}
}

// Intercept rejects frames that cannot be dispatched.
func (v *ValidationInterceptor) Intercept(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if msg.Direction != wire.Inbound {
		return v.next.Intercept(ctx, msg)
	}
	if err := v.validate(msg); err != nil {
		LoggerFromContext(ctx, v.logger).Warn("invalid frame",
			"conn_id", msg.ConnID,
			"method", msg.Method(),
			"error", err,
		)
		return nil, err
	}
	return v.next.Intercept(ctx, msg)
}

func (v *ValidationInterceptor) validate(msg *wire.Message) *ProtocolError {
	if msg.Decoded == nil {
		return NewProtocolError(wire.CodeInvalidRequest, "Invalid Request")
	}
	if resp := msg.Response(); resp != nil {
		if _, ok := wire.IDValue(resp.ID); !ok {
			return NewProtocolError(wire.CodeInvalidRequest, "response without numeric id")
		}
		return nil
	}

	req := msg.Request()
	if req.Method == "" {
		return NewProtocolError(wire.CodeInvalidRequest, "missing method")
	}
	if req.IsCall() {
		if _, ok := wire.IDValue(req.ID); !ok {
			return NewProtocolError(wire.CodeInvalidRequest, "request id must be a number")
		}
	}

	switch req.Method {
	case wire.MethodBootstrap, wire.MethodRelease:
		if len(req.Params) == 0 || !json.Valid(req.Params) {
			return NewProtocolError(wire.CodeInvalidParams, "%s: invalid params", req.Method)
		}
		return nil
	}

	if !msg.IsCapabilityCall() {
		return NewProtocolError(wire.CodeMethodNotFound, "unknown method %q", req.Method)
	}
	call, err := msg.Call()
	if err != nil {
		return NewProtocolError(wire.CodeInvalidParams, "%s: %v", req.Method, err)
	}
	if len(call.Args) > MaxCallArgs {
		return NewProtocolError(wire.CodeInvalidParams, "%s: %d arguments exceeds limit of %d", req.Method, len(call.Args), MaxCallArgs)
	}
	return nil
}

// Compile-time check that ValidationInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*ValidationInterceptor)(nil)
