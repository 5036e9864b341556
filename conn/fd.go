package conn

import (
	"net"
	"syscall"
)

// fdOf extracts the raw file descriptor backing conn, for use as the
// identity in PollRequest values and as the target of the blocking
// façade's readiness wait. It works for *net.TCPConn and any other
// net.Conn that exposes SyscallConn (but not *tls.Conn directly --
// callers must call this before wrapping a connection in TLS).
func fdOf(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, syscall.EINVAL
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var fd int
	ctrlErr := raw.Control(func(sysfd uintptr) {
		fd = int(sysfd)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
