// Package process spawns peer executables connected to the caller by a
// socket pair.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/Sentinel-Gate/ipcgate/internal/port/outbound"
)

// ChildFD is the descriptor number the peer end has in the child: the first
// entry of exec.Cmd.ExtraFiles.
const ChildFD = 3

// FDFlag is the argument naming the inherited descriptor.
const FDFlag = "-ipcfd"

// ErrUnsupported is returned on platforms without AF_UNIX socket pairs.
var ErrUnsupported = errors.New("process spawning is not supported on this platform")

// Options tune a spawn.
type Options struct {
	// Stderr receives the child's stderr. Defaults to os.Stderr.
	Stderr io.Writer
	// Env is the child's environment. Defaults to the parent's.
	Env []string
}

// Process is a spawned peer.
type Process struct {
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits. It may be called more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Kill terminates the child. Killing an exited child is not an error.
func (p *Process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// Compile-time check that Process implements PeerProcess.
var _ outbound.PeerProcess = (*Process)(nil)

// ExecutablePath resolves newExeName next to currentExePath.
func ExecutablePath(currentExePath, newExeName string) string {
	return filepath.Join(filepath.Dir(currentExePath), newExeName)
}

// Spawner spawns peers next to a fixed executable.
// It implements outbound.PeerSpawner.
type Spawner struct {
	// ExePath is the path of the running executable.
	ExePath string
	Options Options
}

// NewSpawner creates a spawner resolving peers next to the running
// executable.
func NewSpawner(opts Options) (*Spawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve current executable: %w", err)
	}
	return &Spawner{ExePath: exe, Options: opts}, nil
}

// Spawn starts exeName and returns the parent end of its channel.
func (s *Spawner) Spawn(ctx context.Context, exeName string) (io.ReadWriteCloser, outbound.PeerProcess, error) {
	conn, proc, err := Spawn(ctx, s.ExePath, exeName, s.Options)
	if err != nil {
		return nil, nil, err
	}
	return conn, proc, nil
}

// Compile-time check that Spawner implements PeerSpawner.
var _ outbound.PeerSpawner = (*Spawner)(nil)
