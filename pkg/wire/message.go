// Package wire defines the frames exchanged between two cooperating processes:
// newline-delimited JSON-RPC 2.0 messages carrying capability calls.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates whether a frame was received or sent by this process.
type Direction int

const (
	// Inbound frames were read from the peer.
	Inbound Direction = iota
	// Outbound frames are written to the peer.
	Outbound
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Message wraps a decoded frame with connection metadata. Interceptors inspect
// and may reject inbound calls through it.
type Message struct {
	// Raw contains the original bytes of the frame.
	Raw []byte

	Direction Direction

	// Decoded is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the frame was read.
	Timestamp time.Time

	// ConnID and Role identify the connection the frame travelled on.
	ConnID string
	Role   string

	call *CallParams
}

// IsRequest returns true if the frame is a request or a notification.
func (m *Message) IsRequest() bool {
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the frame is a response.
func (m *Message) IsResponse() bool {
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// IsNotification returns true for requests that expect no response.
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && !req.IsCall()
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsCapabilityCall returns true for requests addressed to an exported object,
// as opposed to the control methods.
func (m *Message) IsCapabilityCall() bool {
	_, _, ok := SplitMethod(m.Method())
	return ok && m.Method() != MethodBootstrap && m.Method() != MethodRelease
}

// Request returns the underlying Request, or nil.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response, or nil.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// Call parses the capability call parameters. The result is cached so every
// interceptor sees the same value.
func (m *Message) Call() (*CallParams, error) {
	if m.call != nil {
		return m.call, nil
	}
	req := m.Request()
	if req == nil {
		return nil, fmt.Errorf("not a request")
	}
	if len(req.Params) == 0 {
		return nil, fmt.Errorf("missing params")
	}
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, fmt.Errorf("decode call params: %w", err)
	}
	m.call = &params
	return m.call, nil
}

// Interface returns the interface part of a capability call method name.
func (m *Message) Interface() string {
	iface, _, _ := SplitMethod(m.Method())
	return iface
}

// MethodName returns the method part of a capability call method name.
func (m *Message) MethodName() string {
	_, method, _ := SplitMethod(m.Method())
	return method
}

// RequestID returns the numeric request id, if the frame carries one.
func (m *Message) RequestID() (int64, bool) {
	if req := m.Request(); req != nil {
		return IDValue(req.ID)
	}
	if resp := m.Response(); resp != nil {
		return IDValue(resp.ID)
	}
	return 0, false
}
