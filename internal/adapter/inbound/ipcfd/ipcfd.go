// Package ipcfd recognizes the "-ipcfd <N>" arguments a spawned peer is
// started with and serves the process's root object on descriptor N.
package ipcfd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/Sentinel-Gate/ipcgate/internal/service"
)

// Flag is the argument preceding the descriptor number.
const Flag = "-ipcfd"

// ParseArgs returns the inherited descriptor when argv is exactly
// [prog, "-ipcfd", N] with N a non-negative integer.
func ParseArgs(argv []string) (int, bool) {
	if len(argv) != 3 || argv[1] != Flag {
		return 0, false
	}
	fd, err := strconv.Atoi(argv[2])
	if err != nil || fd < 0 {
		return 0, false
	}
	return fd, true
}

// Serve serves impl on the descriptor named by argv and returns once the peer
// disconnects. served is false, with a nil error, when argv does not follow
// the convention and the program should start normally.
func Serve(ctx context.Context, argv []string, impl any, opts ...service.Option) (served bool, err error) {
	fd, ok := ParseArgs(argv)
	if !ok {
		return false, nil
	}
	conn, err := open(fd)
	if err != nil {
		return true, err
	}
	return true, service.Serve(ctx, conn, impl, opts...)
}

func open(fd int) (net.Conn, error) {
	if err := checkFD(fd); err != nil {
		return nil, fmt.Errorf("ipcfd %d: %w", fd, err)
	}
	f := os.NewFile(uintptr(fd), "ipcfd")
	if f == nil {
		return nil, fmt.Errorf("ipcfd %d: invalid descriptor", fd)
	}
	defer func() { _ = f.Close() }()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("ipcfd %d: %w", fd, err)
	}
	return conn, nil
}
