package netcore

import (
	"sync/atomic"
)

// runQueue is a Michael & Scott intrusive lock-free FIFO queue of Task
// values (spec §4.1). Multiple producers may enqueue concurrently; a
// single dequeue is also safe for multiple concurrent consumers, since
// the work pool bank may have more than one worker probing the same
// queue under contention.
//
// No queue node is ever allocated: the chain is threaded through each
// task's own TaskBase.next slot (via Task.link/selfSlot), set up once
// per runQueue for an internal no-op dummy and, per enqueue, for the
// task being linked.
type runQueue struct {
	head atomic.Pointer[Task]
	_    [cacheLineSize - 8]byte
	tail atomic.Pointer[Task]
	_    [cacheLineSize - 8]byte
	// length is an approximate depth counter for metrics/testing; it is
	// not synchronized with the CAS loops below and can transiently
	// over/undercount under contention.
	length atomic.Int64
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	dummy := TaskFunc(func() {})
	dummy.bindSelf(dummy)
	slot := dummy.selfSlot()
	q.head.Store(slot)
	q.tail.Store(slot)
	return q
}

// enqueue links t onto the tail of the queue. Returns ErrTaskLinked if t
// is already linked into a queue (spec §3 precondition on Submit).
func (q *runQueue) enqueue(t Task) error {
	if isLinked(t) {
		return ErrTaskLinked
	}
	t.bindSelf(t)
	node := t.selfSlot()
	t.link().Store(nil)

	for {
		tail := q.tail.Load()
		next := (*tail).link().Load()
		if tail != q.tail.Load() {
			continue
		}
		if next == nil {
			if (*tail).link().CompareAndSwap(nil, node) {
				q.tail.CompareAndSwap(tail, node)
				q.length.Add(1)
				return nil
			}
			continue
		}
		// tail has fallen behind; help advance it before retrying.
		q.tail.CompareAndSwap(tail, next)
	}
}

// dequeue unlinks and returns the task at the head of the queue, or
// (nil, false) if the queue was empty at the moment of the attempt.
func (q *runQueue) dequeue() (Task, bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := (*head).link().Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return nil, false
			}
			// tail has fallen behind; help advance it.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		task := *next
		if q.head.CompareAndSwap(head, next) {
			// Detach so the task can be resubmitted or garbage
			// collected without dragging the rest of the chain.
			task.link().Store(nil)
			q.length.Add(-1)
			return task, true
		}
	}
}

// approxLen returns the queue's approximate current depth.
func (q *runQueue) approxLen() int64 {
	n := q.length.Load()
	if n < 0 {
		return 0
	}
	return n
}

// runQueueBank is the contention-factor-K bank of run queues backing a
// WorkPool (spec §4.1, §4.3). Producers hash onto one queue; workers
// probe starting from a randomized index so that, under low load,
// workers don't all contend on queue 0 first.
type runQueueBank struct {
	queues []*runQueue
}

func newRunQueueBank(k int) *runQueueBank {
	if k < 1 {
		k = 1
	}
	b := &runQueueBank{queues: make([]*runQueue, k)}
	for i := range b.queues {
		b.queues[i] = newRunQueue()
	}
	return b
}

func (b *runQueueBank) len() int { return len(b.queues) }

// submit enqueues t onto the queue selected by idx (reduced modulo the
// bank size by the caller's hash/round-robin scheme).
func (b *runQueueBank) submit(idx int, t Task) error {
	q := b.queues[idx%len(b.queues)]
	return q.enqueue(t)
}

// drain probes the bank for one task to run, starting at startIdx and
// wrapping around once. This is the "probe-credit" draining algorithm:
// a worker checks every queue once per wake-up, starting from its own
// randomized offset, rather than always favoring queue 0.
func (b *runQueueBank) drain(startIdx int) (Task, bool) {
	n := len(b.queues)
	for i := 0; i < n; i++ {
		idx := (startIdx + i) % n
		if t, ok := b.queues[idx].dequeue(); ok {
			return t, true
		}
	}
	return nil, false
}
