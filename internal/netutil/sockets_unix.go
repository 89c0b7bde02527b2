//go:build unix

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlUDPSocket sets SO_REUSEADDR and SO_BROADCAST on the UDP socket
// before bind, the way a LAN-broadcast discovery beacon needs to (spec §6).
// net.ListenConfig exposes no portable option for either flag, so we reach
// into the raw file descriptor the way golang.org/x/sys/unix is meant for.
func controlUDPSocket(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
