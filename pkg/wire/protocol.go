package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Control methods. Every other method is "<Interface>.<Method>".
const (
	// MethodBootstrap asks the peer for its bootstrap capability (cap 0).
	MethodBootstrap = "ipc.bootstrap"
	// MethodRelease tells the peer a capability reference was dropped.
	// Sent as a notification.
	MethodRelease = "ipc.release"
)

// BootstrapCap is the capability id of the object a connection serves first.
const BootstrapCap uint64 = 0

// JSON-RPC 2.0 standard error codes.
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError = -32700
	// CodeInvalidRequest indicates the JSON is not a valid Request object.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound indicates the method does not exist on the interface.
	CodeMethodNotFound = -32601
	// CodeInvalidParams indicates parameters that could not be decoded.
	CodeInvalidParams = -32602
	// CodeInternalError indicates a failure in the runtime itself.
	CodeInternalError = -32603
)

// Implementation-defined error codes (-32000 to -32099).
const (
	// CodeRemoteCall reports an error returned or raised by the implementation.
	CodeRemoteCall = -32000
	// CodeUnknownCapability reports a call on a capability that is not exported.
	CodeUnknownCapability = -32001
	// CodePolicyDenied reports a call rejected by the call policy.
	CodePolicyDenied = -32002
	// CodeInterfaceMismatch reports a bootstrap for a different interface.
	CodeInterfaceMismatch = -32003
)

// CallParams is the params object of a capability call.
type CallParams struct {
	Cap  uint64            `json:"cap"`
	Args []json.RawMessage `json:"args"`
	Meta map[string]string `json:"_meta,omitempty"`
}

// CallResult is the result object of a capability call.
type CallResult struct {
	Values []json.RawMessage `json:"values"`
}

// BootstrapParams is sent by the side that wants the peer's root object.
type BootstrapParams struct {
	Interface   string `json:"interface"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// BootstrapResult names the exported root object.
type BootstrapResult struct {
	Cap         uint64 `json:"cap"`
	Interface   string `json:"interface"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ReleaseParams identifies a capability the sender no longer references.
type ReleaseParams struct {
	Cap uint64 `json:"cap"`
}

// CapRef is the serialized form of a capability passed as an argument or
// result. The id refers to the sender's export table.
type CapRef struct {
	Cap       uint64 `json:"$cap"`
	Interface string `json:"interface"`
}

// JoinMethod builds the method name of a capability call.
func JoinMethod(iface, method string) string {
	return iface + "." + method
}

// SplitMethod splits "<Interface>.<Method>" at the last dot.
func SplitMethod(name string) (iface, method string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// MakeID converts a sequence number into a request id.
func MakeID(seq int64) jsonrpc.ID {
	// MakeID only fails for unsupported dynamic types.
	id, _ := jsonrpc.MakeID(float64(seq))
	return id
}

// IDValue returns the numeric value of id.
func IDValue(id jsonrpc.ID) (int64, bool) {
	switch v := id.Raw().(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// NewRequest builds a request frame with JSON-encoded params.
func NewRequest(seq int64, method string, params any) (*jsonrpc.Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return &jsonrpc.Request{ID: MakeID(seq), Method: method, Params: raw}, nil
}

// NewNotification builds a request frame without an id.
func NewNotification(method string, params any) (*jsonrpc.Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return &jsonrpc.Request{Method: method, Params: raw}, nil
}

// NewResult builds a successful response frame.
func NewResult(id jsonrpc.ID, result any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &jsonrpc.Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id jsonrpc.ID, code int64, message string) *jsonrpc.Response {
	return &jsonrpc.Response{
		ID:    id,
		Error: &jsonrpc.Error{Code: code, Message: message},
	}
}
