package netcore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSocket feeds a scripted sequence of reads to InputQueue without a
// real file descriptor, so drainSocket can be exercised without the Go
// toolchain's network stack.
type fakeSocket struct {
	mu      sync.Mutex
	pending []byte
	err     error // returned once pending is drained
}

func (s *fakeSocket) FD() int { return -1 }

// ReadNonBlocking copies as much of the pending buffer as fits, the way
// a real non-blocking socket read isn't bound by whatever write-side
// chunking produced the bytes.
func (s *fakeSocket) ReadNonBlocking(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0, s.err
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *fakeSocket) WriteNonBlocking(buf []byte) (int, error) { return len(buf), nil }
func (s *fakeSocket) Close() error                             { return nil }

// fakeSelector records registrations without any real polling; tests
// drive HandleIOEvents directly rather than running Run.
type fakeSelector struct {
	mu         sync.Mutex
	registered map[int]SelectorHandler
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{registered: make(map[int]SelectorHandler)}
}

func (s *fakeSelector) RegisterFD(fd int, events IOEvents, handler SelectorHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[fd] = handler
	return nil
}

func (s *fakeSelector) ModifyFD(fd int, events IOEvents) error { return nil }

func (s *fakeSelector) UnregisterFD(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, fd)
	return nil
}

func (s *fakeSelector) isRegistered(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registered[fd]
	return ok
}

func (s *fakeSelector) Run(_ context.Context) error { return nil }
func (s *fakeSelector) Wake() error                 { return nil }
func (s *fakeSelector) Close() error                { return nil }

type fakeHandler struct {
	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
	cause  error
}

func (h *fakeHandler) OnData(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data.Write(p)
}

func (h *fakeHandler) OnClose(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cause = err
}

func (h *fakeHandler) snapshot() (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data.String(), h.closed, h.cause
}

func Test_InputQueue_deliversBufferedReads(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	defer pool.StopAndWait()

	sock := &fakeSocket{pending: []byte("hello world")}
	sel := newFakeSelector()
	handler := &fakeHandler{}

	q := NewInputQueue(WithBlockSize(8))
	require.NoError(t, q.SetListenerAndStart(sock, sel, pool, handler))
	require.True(t, sel.isRegistered(sock.FD()))

	q.HandleIOEvents(EventRead)

	require.Eventually(t, func() bool {
		data, _, _ := handler.snapshot()
		return data == "hello world"
	}, time.Second, time.Millisecond)
}

func Test_InputQueue_setListenerAndStart_RejectsSecondCall(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	defer pool.StopAndWait()

	q := NewInputQueue()
	sock := &fakeSocket{}
	sel := newFakeSelector()
	handler := &fakeHandler{}

	require.NoError(t, q.SetListenerAndStart(sock, sel, pool, handler))
	require.ErrorIs(t, q.SetListenerAndStart(sock, sel, pool, handler), ErrInputQueueStarted)
}

func Test_InputQueue_socketErrorStopsAndNotifiesHandler(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	defer pool.StopAndWait()

	wantErr := errors.New("connection reset")
	sock := &fakeSocket{pending: []byte("partial"), err: wantErr}
	sel := newFakeSelector()
	handler := &fakeHandler{}

	q := NewInputQueue(WithBlockSize(64))
	require.NoError(t, q.SetListenerAndStart(sock, sel, pool, handler))

	// The fake socket's short read ("partial" < the 64-byte block) makes
	// drainSocket return as if the selector needs to re-arm; a real
	// level-triggered selector would call HandleIOEvents again once the
	// error becomes visible on the next readiness edge, so the test
	// drives that second edge itself.
	q.HandleIOEvents(EventRead)
	require.Eventually(t, func() bool {
		data, _, _ := handler.snapshot()
		return data == "partial"
	}, time.Second, time.Millisecond)

	q.HandleIOEvents(EventRead)
	require.Eventually(t, func() bool {
		_, closed, _ := handler.snapshot()
		return closed
	}, time.Second, time.Millisecond)

	data, closed, cause := handler.snapshot()
	require.Equal(t, "partial", data)
	require.True(t, closed)
	require.ErrorIs(t, cause, wantErr)
	require.False(t, sel.isRegistered(sock.FD()))
}

func Test_InputQueue_hangupStopsWithoutReading(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	defer pool.StopAndWait()

	sock := &fakeSocket{pending: []byte("should not be read")}
	sel := newFakeSelector()
	handler := &fakeHandler{}

	q := NewInputQueue()
	require.NoError(t, q.SetListenerAndStart(sock, sel, pool, handler))

	q.HandleIOEvents(EventHangup)

	require.Eventually(t, func() bool {
		_, closed, _ := handler.snapshot()
		return closed
	}, time.Second, time.Millisecond)

	data, _, _ := handler.snapshot()
	require.Empty(t, data)
}

func Test_InputQueue_stopIsIdempotent(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	defer pool.StopAndWait()

	sock := &fakeSocket{}
	sel := newFakeSelector()
	handler := &fakeHandler{}

	q := NewInputQueue()
	require.NoError(t, q.SetListenerAndStart(sock, sel, pool, handler))

	require.NoError(t, q.Stop(errors.New("first")))
	require.NoError(t, q.Stop(errors.New("second")))

	_, closed, cause := handler.snapshot()
	require.True(t, closed)
	require.EqualError(t, cause, "first")
}
