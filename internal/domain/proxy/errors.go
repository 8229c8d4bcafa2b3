package proxy

import (
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/serializer"
	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// ErrDisconnected is returned by every call that could not complete because
// the connection to the peer is gone.
var ErrDisconnected = errors.New("peer disconnected")

// ErrPolicyDenied is returned when the call policy rejects an inbound call.
var ErrPolicyDenied = errors.New("call denied by policy")

// TransportError reports a read, write or setup failure of the underlying
// stream. It always matches ErrDisconnected.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s: %v", e.Op, ErrDisconnected)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns ErrDisconnected and the cause.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDisconnected}
	}
	return []error{ErrDisconnected, e.Err}
}

// ProtocolError reports a malformed or incompatible message. The call fails
// but the connection stays usable.
type ProtocolError struct {
	Code    int64
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NewProtocolError creates a ProtocolError.
func NewProtocolError(code int64, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RemoteCallError reports an error returned (or a panic raised) by the
// implementation on the other side of the connection.
type RemoteCallError struct {
	Interface string
	Method    string
	Message   string
}

// Error implements the error interface.
func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Interface, e.Method, e.Message)
}

// WireError maps err to the code and message sent back to the caller.
// Internal failures are reduced to a generic message.
func WireError(err error) (int64, string) {
	var remoteErr *RemoteCallError
	var protoErr *ProtocolError
	var denyErr *PolicyDenyError
	switch {
	case errors.As(err, &remoteErr):
		return wire.CodeRemoteCall, remoteErr.Message
	case errors.As(err, &protoErr):
		return protoErr.Code, protoErr.Message
	case errors.As(err, &denyErr):
		return wire.CodePolicyDenied, "Access denied by policy: " + denyErr.Reason
	case errors.Is(err, ErrPolicyDenied):
		return wire.CodePolicyDenied, "Access denied by policy"
	case errors.Is(err, lifecycle.ErrClosed):
		return wire.CodeUnknownCapability, "Capability closed"
	case errors.Is(err, serializer.ErrMissingField),
		errors.Is(err, serializer.ErrOverflow),
		errors.Is(err, serializer.ErrUnsupportedType):
		return wire.CodeInvalidParams, err.Error()
	default:
		return wire.CodeInternalError, "Internal error"
	}
}

// ErrorFromWire converts an error response into the matching error kind.
func ErrorFromWire(iface, method string, err error) error {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return &ProtocolError{Code: wire.CodeInternalError, Message: err.Error()}
	}
	switch wireErr.Code {
	case wire.CodeRemoteCall:
		return &RemoteCallError{Interface: iface, Method: method, Message: wireErr.Message}
	case wire.CodePolicyDenied:
		return &PolicyDenyError{Interface: iface, Method: method, Reason: wireErr.Message}
	default:
		return &ProtocolError{Code: wireErr.Code, Message: wireErr.Message}
	}
}
