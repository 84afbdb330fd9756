//go:build linux || darwin

package netcore

import (
	"io"

	"golang.org/x/sys/unix"
)

// FDSocket adapts a raw, already-accepted non-blocking file descriptor
// to the Socket interface using the readFD/writeFD/closeFD helpers in
// fd_unix.go. It's the reference Socket used by tests and by any
// caller that already has a connected fd (e.g. from net.Conn's
// SyscallConn, or a socketpair in tests) rather than its own net.Conn
// wrapper.
type FDSocket struct {
	fd int
}

// NewFDSocket wraps fd, putting it in non-blocking mode.
func NewFDSocket(fd int) (*FDSocket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, WrapError("netcore: set_nonblock", err)
	}
	return &FDSocket{fd: fd}, nil
}

func (s *FDSocket) FD() int { return s.fd }

// ReadNonBlocking returns (0, nil) on EAGAIN/EWOULDBLOCK, rather than
// surfacing it as an error: the caller (InputQueue.drainSocket) treats
// a zero-length, nil-error read as "nothing more available right now".
// End of stream is reported as (0, io.EOF).
func (s *FDSocket) ReadNonBlocking(buf []byte) (int, error) {
	n, err := readFD(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if n == 0 && err == nil && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, err
}

func (s *FDSocket) WriteNonBlocking(buf []byte) (int, error) {
	n, err := writeFD(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	return n, err
}

func (s *FDSocket) Close() error { return closeFD(s.fd) }
