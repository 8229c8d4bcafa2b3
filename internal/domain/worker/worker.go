// Package worker defines the interfaces a gate calls on its worker process,
// their client stubs and a reference implementation.
//
// Every method takes a context first. A callback invoked from inside a call
// must be handed the context it received, so that the nested call is served
// on the same event loop instead of being posted to it.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/serializer"
)

// Interface names shared by both peers.
const (
	InitName     = "Init"
	CounterName  = "Counter"
	ListenerName = "Listener"
	SinkName     = "StreamSink"
)

// PingReply is the value Init.Ping answers with.
const PingReply = 42

// Record is a structured value passed through Init.Pass.
type Record struct {
	Name   string `ipc:"name,required"`
	NumSet []int  `ipc:"num_set"`
}

// Version is a semantic version. It travels as a "major.minor.patch" string.
type Version struct {
	Major, Minor, Patch int
}

// String renders the version as major.minor.patch.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MarshalIPC implements serializer.Marshaler.
func (v Version) MarshalIPC() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalIPC implements serializer.Unmarshaler.
func (v *Version) UnmarshalIPC(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	var parsed Version
	if _, err := fmt.Sscanf(s, "%d.%d.%d", &parsed.Major, &parsed.Minor, &parsed.Patch); err != nil {
		return fmt.Errorf("version %q: %w", s, err)
	}
	*v = parsed
	return nil
}

// Counter is a stateful object handed out by Init.MakeCounter.
type Counter interface {
	Inc(ctx context.Context) (int, error)
	Value(ctx context.Context) (int, error)
}

// Listener receives events from a subscription. It is implemented by the
// calling side and invoked by the worker.
type Listener interface {
	Notify(ctx context.Context, event string) error
}

// Sink carries the callback of Init.Stream across the connection.
type Sink interface {
	Put(ctx context.Context, i int) error
}

// Init is the root object of a worker process.
type Init interface {
	// Ping answers PingReply.
	Ping(ctx context.Context) (int, error)
	Add(ctx context.Context, a, b int) (int, error)
	// MapSize returns the number of entries in m.
	MapSize(ctx context.Context, m map[string]string) (int, error)
	// Pass returns r with its name prefixed and its numbers doubled.
	Pass(ctx context.Context, r Record) (Record, error)
	// Append adds item to the history and notifies every subscriber.
	Append(ctx context.Context, item string) error
	History(ctx context.Context) ([]string, error)
	// Fail returns an error carrying msg.
	Fail(ctx context.Context, msg string) error
	// Unlock reports whether s matches the worker's passphrase. s is wiped.
	Unlock(ctx context.Context, s serializer.Secret) (bool, error)
	MakeCounter(ctx context.Context, start int) (Counter, error)
	// Subscribe registers l for Append events and greets it once.
	Subscribe(ctx context.Context, l Listener) error
	// Stream calls fn with 0..n-1 and returns how many calls succeeded.
	Stream(ctx context.Context, n int, fn func(ctx context.Context, i int) error) (int, error)
	Version(ctx context.Context) (Version, error)
	// Block returns only when ctx is done.
	Block(ctx context.Context) error
}
