//go:build unix

package ipcfd

import "golang.org/x/sys/unix"

// checkFD fails when fd is not open, and keeps it from leaking into
// processes this one spawns.
func checkFD(fd int) error {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return err
	}
	unix.CloseOnExec(fd)
	return nil
}
