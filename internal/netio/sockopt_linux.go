//go:build linux

package netio

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket configures probe client sockets before they connect.
// SO_REUSEADDR lets a restarted probe rebind a local port still in
// TIME_WAIT.
func controlSocket(c syscall.RawConn) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)

		if sockErr = unix.SetsockoptInt(
			intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1,
		); sockErr != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}
