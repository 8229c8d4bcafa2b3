package outbound

import (
	"context"
	"io"
)

// PeerProcess is a spawned peer.
type PeerProcess interface {
	// Pid returns the operating system process id.
	Pid() int
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the process and releases its resources.
	Kill() error
}

// PeerSpawner starts a peer executable connected to the caller by a stream.
type PeerSpawner interface {
	Spawn(ctx context.Context, exeName string) (io.ReadWriteCloser, PeerProcess, error)
}
