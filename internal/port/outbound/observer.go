// Package outbound defines the ports the runtime uses to reach things outside
// the process: metrics sinks and peer processes.
package outbound

import "time"

// Call status labels reported to a CallObserver.
const (
	StatusOK           = "ok"
	StatusRemoteError  = "remote_error"
	StatusProtocol     = "protocol_error"
	StatusDenied       = "denied"
	StatusDisconnected = "disconnected"
	StatusCancelled    = "cancelled"
)

// CallObserver receives per-call and per-connection measurements.
// Implemented by the Prometheus metrics adapter.
type CallObserver interface {
	// CallCompleted is reported for every outbound capability call.
	CallCompleted(iface, method, status string, d time.Duration)
	// DispatchCompleted is reported for every inbound call served locally.
	DispatchCompleted(iface, method, status string, d time.Duration)
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	// ExportsChanged adjusts the number of live exported capabilities.
	ExportsChanged(delta int)
}

// NopObserver discards every measurement.
type NopObserver struct{}

func (NopObserver) CallCompleted(string, string, string, time.Duration)     {}
func (NopObserver) DispatchCompleted(string, string, string, time.Duration) {}
func (NopObserver) ConnectionOpened(string)                                 {}
func (NopObserver) ConnectionClosed(string)                                 {}
func (NopObserver) ExportsChanged(int)                                      {}

var _ CallObserver = NopObserver{}
