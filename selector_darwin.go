//go:build darwin

package netcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const maxSelectorFDs = 65536

const wakeUserIdent = 1

type kqueueRegistration struct {
	handler SelectorHandler
	events  IOEvents
	active  bool
}

// KqueueSelector is the Darwin/BSD Selector implementation: kqueue for
// readiness, an EVFILT_USER event for Wake.
type KqueueSelector struct {
	kq      int
	version atomic.Uint64

	regMu sync.RWMutex
	regs  [maxSelectorFDs]kqueueRegistration

	closed atomicBoolFlag
}

// NewSelector constructs the platform-native Selector (kqueue on
// Darwin/BSD).
func NewSelector() (*KqueueSelector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, WrapError("netcore: kqueue", err)
	}
	s := &KqueueSelector{kq: kq}
	add := unix.Kevent_t{
		Ident:  wakeUserIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{add}, nil, nil); err != nil {
		_ = unix.Close(kq)
		return nil, WrapError("netcore: kqueue register wake event", err)
	}
	return s, nil
}

func (s *KqueueSelector) RegisterFD(fd int, events IOEvents, handler SelectorHandler) error {
	if fd < 0 || fd >= maxSelectorFDs {
		return WrapError("netcore: register_fd", ErrChunkTooLarge)
	}
	s.regMu.Lock()
	if s.regs[fd].active {
		s.regMu.Unlock()
		return ErrInputQueueStarted
	}
	s.regs[fd] = kqueueRegistration{handler: handler, events: events, active: true}
	s.version.Add(1)
	s.regMu.Unlock()

	changes := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(s.kq, changes, nil, nil); err != nil {
		s.regMu.Lock()
		s.regs[fd] = kqueueRegistration{}
		s.regMu.Unlock()
		return WrapError("netcore: kevent add", err)
	}
	return nil
}

func (s *KqueueSelector) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxSelectorFDs {
		return WrapError("netcore: modify_fd", ErrChunkTooLarge)
	}
	s.regMu.Lock()
	if !s.regs[fd].active {
		s.regMu.Unlock()
		return ErrInputQueueClosed
	}
	old := s.regs[fd].events
	s.regs[fd].events = events
	s.version.Add(1)
	s.regMu.Unlock()

	var changes []unix.Kevent_t
	changes = append(changes, eventsToKevents(fd, old, unix.EV_DELETE)...)
	changes = append(changes, eventsToKevents(fd, events, unix.EV_ADD|unix.EV_CLEAR)...)
	_, err := unix.Kevent(s.kq, changes, nil, nil)
	return err
}

func (s *KqueueSelector) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxSelectorFDs {
		return WrapError("netcore: unregister_fd", ErrChunkTooLarge)
	}
	s.regMu.Lock()
	if !s.regs[fd].active {
		s.regMu.Unlock()
		return ErrInputQueueClosed
	}
	events := s.regs[fd].events
	s.regs[fd] = kqueueRegistration{}
	s.version.Add(1)
	s.regMu.Unlock()

	changes := eventsToKevents(fd, events, unix.EV_DELETE)
	_, err := unix.Kevent(s.kq, changes, nil, nil)
	return err
}

func (s *KqueueSelector) Run(ctx context.Context) error {
	eventBuf := make([]unix.Kevent_t, 256)
	timeout := unix.NsecToTimespec(int64(time.Second))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := unix.Kevent(s.kq, nil, eventBuf, &timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return WrapError("netcore: kevent wait", err)
		}
		for i := 0; i < n; i++ {
			ev := eventBuf[i]
			if ev.Filter == unix.EVFILT_USER {
				continue
			}
			fd := int(ev.Ident)
			s.regMu.RLock()
			reg := s.regs[fd]
			s.regMu.RUnlock()
			if reg.active && reg.handler != nil {
				reg.handler.HandleIOEvents(kqueueToEvents(ev))
			}
		}
	}
}

func (s *KqueueSelector) Wake() error {
	trigger := unix.Kevent_t{
		Ident:  wakeUserIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, err := unix.Kevent(s.kq, []unix.Kevent_t{trigger}, nil, nil)
	return err
}

func (s *KqueueSelector) Close() error {
	if !s.closed.set() {
		return nil
	}
	return unix.Close(s.kq)
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if events&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func kqueueToEvents(ev unix.Kevent_t) IOEvents {
	var events IOEvents
	switch ev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if ev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	return events
}
