package netcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_gate_releaseAcquire(t *testing.T) {
	g := newGate(4)
	require.Equal(t, 0, g.currentCount())

	g.release()
	require.Equal(t, 1, g.currentCount())

	require.True(t, g.acquire())
	require.Equal(t, 0, g.currentCount())
}

func Test_gate_saturatesAtMax(t *testing.T) {
	g := newGate(2)
	g.release()
	g.release()
	g.release()
	require.Equal(t, 2, g.currentCount())
}

func Test_gate_tryAcquire_FalseWhenEmpty(t *testing.T) {
	g := newGate(1)
	require.False(t, g.tryAcquire())
	g.release()
	require.True(t, g.tryAcquire())
	require.False(t, g.tryAcquire())
}

func Test_gate_acquire_BlocksUntilRelease(t *testing.T) {
	g := newGate(1)
	done := make(chan bool, 1)
	go func() {
		done <- g.acquire()
	}()

	select {
	case <-done:
		t.Fatal("acquire returned before release")
	case <-time.After(20 * time.Millisecond):
	}

	g.release()
	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after release")
	}
}

func Test_gate_close_UnparksWaiters(t *testing.T) {
	g := newGate(1)
	done := make(chan bool, 1)
	go func() {
		done <- g.acquire()
	}()

	time.Sleep(20 * time.Millisecond)
	g.close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after close")
	}
}

// Test_gate_close_SaturatesCountAtMax pins down the shutdown scenario
// where a gate must report currentCount() == max forever after close,
// regardless of how many acquires were outstanding beforehand.
func Test_gate_close_SaturatesCountAtMax(t *testing.T) {
	g := newGate(3)
	g.release()
	require.Equal(t, 1, g.currentCount())

	g.close()
	require.Equal(t, 3, g.currentCount())

	// Further acquires must keep failing, and must never decrement the
	// saturated count back down.
	require.False(t, g.acquire())
	require.False(t, g.tryAcquire())
	require.Equal(t, 3, g.currentCount())
}
