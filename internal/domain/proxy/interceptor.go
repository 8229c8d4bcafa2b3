// Package proxy contains the capability layer of a connection: client stubs
// forwarding calls to the peer, servers dispatching the peer's calls to local
// implementations, and the interceptor chain inbound calls pass through.
package proxy

import (
	"context"
	"log/slog"

	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// MessageInterceptor inspects inbound frames before they are dispatched.
type MessageInterceptor interface {
	// Intercept returns the message to dispatch, or an error to reject it.
	// A rejected request is answered with the error's wire code.
	Intercept(ctx context.Context, msg *wire.Message) (*wire.Message, error)
}

// InterceptorFunc adapts a function to MessageInterceptor.
type InterceptorFunc func(ctx context.Context, msg *wire.Message) (*wire.Message, error)

// Intercept calls f.
func (f InterceptorFunc) Intercept(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	return f(ctx, msg)
}

// PassthroughInterceptor forwards all messages unchanged. It terminates every
// chain.
type PassthroughInterceptor struct{}

// NewPassthroughInterceptor creates a passthrough interceptor.
func NewPassthroughInterceptor() *PassthroughInterceptor {
	return &PassthroughInterceptor{}
}

// Intercept returns the message unchanged.
func (i *PassthroughInterceptor) Intercept(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	return msg, nil
}

// Compile-time check that PassthroughInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*PassthroughInterceptor)(nil)

// NewChain assembles the inbound chain
// Validation -> Audit -> Policy -> Passthrough. A nil policy admits every
// call; a nil recorder still logs.
func NewChain(policy CallPolicy, recorder CallRecorder, logger *slog.Logger) MessageInterceptor {
	var inner MessageInterceptor = NewPassthroughInterceptor()
	if policy != nil {
		inner = NewPolicyInterceptor(policy, inner, logger)
	}
	return NewValidationInterceptor(NewAuditInterceptor(recorder, inner, logger), logger)
}
