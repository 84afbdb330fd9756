//go:build linux || darwin

package netcore

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a raw file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD performs a single non-blocking read attempt on fd.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD performs a single write attempt on fd.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}
