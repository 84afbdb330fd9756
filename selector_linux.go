//go:build linux

package netcore

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxSelectorFDs bounds direct-indexed fd lookup, avoiding a map on the
// poll hot path.
const maxSelectorFDs = 65536

type epollRegistration struct {
	handler SelectorHandler
	events  IOEvents
	active  bool
}

// EpollSelector is the Linux Selector implementation: epoll for
// readiness, an eventfd for Wake.
type EpollSelector struct {
	epfd    int
	wakeFD  int
	version atomic.Uint64

	regMu sync.RWMutex
	regs  [maxSelectorFDs]epollRegistration

	closed atomicBoolFlag
}

// NewSelector constructs the platform-native Selector (epoll on Linux).
func NewSelector() (*EpollSelector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, WrapError("netcore: epoll_create1", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, WrapError("netcore: eventfd", err)
	}
	s := &EpollSelector{epfd: epfd, wakeFD: wakeFD}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakeFD)
		return nil, WrapError("netcore: epoll_ctl wake fd", err)
	}
	return s, nil
}

func (s *EpollSelector) RegisterFD(fd int, events IOEvents, handler SelectorHandler) error {
	if fd < 0 || fd >= maxSelectorFDs {
		return WrapError("netcore: register_fd", ErrChunkTooLarge)
	}
	s.regMu.Lock()
	if s.regs[fd].active {
		s.regMu.Unlock()
		return ErrInputQueueStarted
	}
	s.regs[fd] = epollRegistration{handler: handler, events: events, active: true}
	s.version.Add(1)
	s.regMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		s.regMu.Lock()
		s.regs[fd] = epollRegistration{}
		s.regMu.Unlock()
		return WrapError("netcore: epoll_ctl add", err)
	}
	return nil
}

func (s *EpollSelector) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxSelectorFDs {
		return WrapError("netcore: modify_fd", ErrChunkTooLarge)
	}
	s.regMu.Lock()
	if !s.regs[fd].active {
		s.regMu.Unlock()
		return ErrInputQueueClosed
	}
	s.regs[fd].events = events
	s.version.Add(1)
	s.regMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (s *EpollSelector) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxSelectorFDs {
		return WrapError("netcore: unregister_fd", ErrChunkTooLarge)
	}
	s.regMu.Lock()
	if !s.regs[fd].active {
		s.regMu.Unlock()
		return ErrInputQueueClosed
	}
	s.regs[fd] = epollRegistration{}
	s.version.Add(1)
	s.regMu.Unlock()
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run polls until ctx is done. The selector role owns this call for
// the lifetime of the loop; Wake lets other goroutines interrupt a
// blocked wait after changing a registration.
func (s *EpollSelector) Run(ctx context.Context) error {
	var events [256]unix.EpollEvent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := unix.EpollWait(s.epfd, events[:], 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return WrapError("netcore: epoll_wait", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.wakeFD {
				drainEventfd(s.wakeFD)
				continue
			}
			s.regMu.RLock()
			reg := s.regs[fd]
			s.regMu.RUnlock()
			if reg.active && reg.handler != nil {
				reg.handler.HandleIOEvents(epollToEvents(events[i].Events))
			}
		}
	}
}

func (s *EpollSelector) Wake() error {
	var one [8]byte
	one[7] = 1
	_, err := unix.Write(s.wakeFD, one[:])
	return err
}

func (s *EpollSelector) Close() error {
	if !s.closed.set() {
		return nil
	}
	_ = unix.Close(s.wakeFD)
	return unix.Close(s.epfd)
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
