package netcore

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_runQueue_enqueueDequeue_FIFO(t *testing.T) {
	q := newRunQueue()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.enqueue(TaskFunc(func() { order = append(order, i) })))
	}
	for i := 0; i < 5; i++ {
		task, ok := q.dequeue()
		require.True(t, ok)
		task.RunInPool()
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)

	_, ok := q.dequeue()
	require.False(t, ok)
}

func Test_runQueue_enqueue_RejectsAlreadyLinked(t *testing.T) {
	q := newRunQueue()
	task := TaskFunc(func() {})
	require.NoError(t, q.enqueue(task))
	require.ErrorIs(t, q.enqueue(task), ErrTaskLinked)
}

func Test_runQueue_concurrentProducersConsumers(t *testing.T) {
	q := newRunQueue()
	const producers = 4
	const perProducer = 2500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.enqueue(TaskFunc(func() {})))
			}
		}()
	}
	wg.Wait()

	var count int
	for {
		_, ok := q.dequeue()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, producers*perProducer, count)
}

func Test_runQueueBank_drain_probesEveryQueue(t *testing.T) {
	bank := newRunQueueBank(4)
	var ran atomic.Int32
	require.NoError(t, bank.submit(3, TaskFunc(func() { ran.Add(1) })))

	task, ok := bank.drain(0)
	require.True(t, ok)
	task.RunInPool()
	require.Equal(t, int32(1), ran.Load())

	_, ok = bank.drain(2)
	require.False(t, ok)
}
