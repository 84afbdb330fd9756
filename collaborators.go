package netcore

import "context"

// IOEvents is a bitmask of readiness events reported by a Selector.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Socket is the minimal non-blocking byte-stream collaborator InputQueue
// and OutputQueue drive; a TCP connection, a pipe, or a test double all
// satisfy it.
type Socket interface {
	// FD returns the underlying OS file descriptor, for Selector
	// registration.
	FD() int
	// ReadNonBlocking performs one non-blocking read into buf, returning
	// (0, nil) if no data is currently available.
	ReadNonBlocking(buf []byte) (int, error)
	// WriteNonBlocking performs one non-blocking write of buf, returning
	// the number of bytes accepted.
	WriteNonBlocking(buf []byte) (int, error)
	Close() error
}

// Listener accepts incoming connections, handed to a Selector's
// registration for read-readiness just like any other Socket.
type Listener interface {
	Accept() (Socket, error)
	FD() int
	Close() error
}

// SelectorHandler receives readiness callbacks from a Selector's poll
// loop. InputQueue implements this to learn when its Socket has data
// or has hung up.
type SelectorHandler interface {
	HandleIOEvents(events IOEvents)
}

// Selector arms and polls readiness for registered file descriptors. It
// is the one piece of this package that is inherently
// platform-specific; epoll (selector_linux.go) and kqueue
// (selector_darwin.go) are the bundled implementations, but any type
// satisfying this interface works.
type Selector interface {
	// RegisterFD starts watching fd for events, invoking handler on
	// readiness. ModifyFD changes the watched event set; UnregisterFD
	// stops watching it.
	RegisterFD(fd int, events IOEvents, handler SelectorHandler) error
	ModifyFD(fd int, events IOEvents) error
	UnregisterFD(fd int) error

	// Run polls until ctx is done, dispatching readiness callbacks on
	// the calling goroutine (the "selector role" of spec §4.5).
	Run(ctx context.Context) error

	// Wake interrupts a blocked Run call, used when a registration
	// changes from another goroutine.
	Wake() error

	Close() error
}
