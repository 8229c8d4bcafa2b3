//go:build !unix

package process

import (
	"context"
	"net"
)

// Spawn is not available without AF_UNIX socket pairs.
func Spawn(ctx context.Context, currentExePath, newExeName string, opts Options) (net.Conn, *Process, error) {
	return nil, nil, ErrUnsupported
}
