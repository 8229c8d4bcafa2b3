//go:build !unix

package ipcfd

import "errors"

func checkFD(fd int) error {
	return errors.New("inherited descriptors are not supported on this platform")
}
