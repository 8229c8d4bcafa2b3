//go:build unix

package process

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Spawn creates a connected AF_UNIX stream pair and runs
// dir(currentExePath)/newExeName -ipcfd 3 with the child end as descriptor 3.
// Every other descriptor of the parent is close-on-exec. ctx only bounds the
// start of the child.
func Spawn(ctx context.Context, currentExePath, newExeName string, opts Options) (net.Conn, *Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	parentFile := os.NewFile(uintptr(fds[0]), "ipc-parent")
	childFile := os.NewFile(uintptr(fds[1]), "ipc-child")
	defer func() { _ = childFile.Close() }()

	conn, err := net.FileConn(parentFile)
	// FileConn dups the descriptor.
	_ = parentFile.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("wrap parent socket: %w", err)
	}

	path := ExecutablePath(currentExePath, newExeName)
	cmd := exec.Command(path, FDFlag, strconv.Itoa(ChildFD))
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = opts.Env

	if err := cmd.Start(); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("start %s: %w", path, err)
	}
	return conn, &Process{cmd: cmd}, nil
}
