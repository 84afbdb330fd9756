package netcore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_WorkPool_runsAllSubmittedTasks(t *testing.T) {
	pool := NewWorkPool(WithThreads(2), WithContentionFactor(4))

	const producers = 4
	const perProducer = 2500
	var ran atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.NoError(t, pool.SubmitFunc(func() { ran.Add(1) }))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return ran.Load() == producers*perProducer
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, pool.StopAndWait())
}

func Test_WorkPool_submitAfterStop(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	require.NoError(t, pool.StopAndWait())
	require.ErrorIs(t, pool.SubmitFunc(func() {}), ErrPoolStopped)
	require.ErrorIs(t, pool.StopAndWait(), ErrPoolAlreadyStopped)
}

// Test_WorkPool_stopAndWaitSaturatesGateAtThreadCount pins down the
// shutdown guarantee that the pool's gate count settles at the thread
// count once StopAndWait returns, however many credits were
// outstanding beforehand.
func Test_WorkPool_stopAndWaitSaturatesGateAtThreadCount(t *testing.T) {
	const threads = 4
	pool := NewWorkPool(WithThreads(threads))

	require.NoError(t, pool.StopAndWait())
	require.Equal(t, threads, pool.g.currentCount())
}

func Test_WorkPool_recoversPanickingTask(t *testing.T) {
	pool := NewWorkPool(WithThreads(1))
	var ranNext atomic.Bool

	require.NoError(t, pool.SubmitFunc(func() { panic("boom") }))
	require.NoError(t, pool.SubmitFunc(func() { ranNext.Store(true) }))

	require.Eventually(t, func() bool { return ranNext.Load() }, time.Second, time.Millisecond)
	require.NoError(t, pool.StopAndWait())
}

