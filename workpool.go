package netcore

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// WorkPool is a fixed-size pool of worker goroutines draining a bank of
// K lock-free run queues (spec §4.3). Submit is safe from any goroutine;
// workers wake on a shared gate, probe the bank starting from a
// per-worker randomized index, and drain every ready queue before
// parking again.
type WorkPool struct {
	id      int64
	bank    *runQueueBank
	g       *gate
	wg      sync.WaitGroup
	stopped atomic.Bool
	next    atomic.Uint64 // round-robin submit counter

	opts    *poolOptions
	logger  Logger
	metrics *Metrics
}

var poolIDSeq atomic.Int64

// NewWorkPool starts threads worker goroutines over a bank of
// contentionFactor run queues. Workers are parked on the gate until
// Submit releases a credit.
func NewWorkPool(opts ...PoolOption) *WorkPool {
	cfg := resolvePoolOptions(opts)

	p := &WorkPool{
		id:     poolIDSeq.Add(1),
		bank:   newRunQueueBank(cfg.contentionFactor),
		g:      newGate(cfg.threads),
		opts:   cfg,
		logger: cfg.logger,
	}
	if p.logger == nil {
		p.logger = getGlobalLogger()
	}
	if cfg.metricsEnabled {
		p.metrics = &Metrics{}
	}

	p.wg.Add(cfg.threads)
	for i := 0; i < cfg.threads; i++ {
		seed := splitmix64(uint64(p.id)*2654435761 + uint64(i) + 1)
		go p.workerLoop(int64(i), seed)
	}
	return p
}

// Submit hands t off to the pool. t must not currently be linked into
// any queue (spec §3 precondition); violating this returns
// ErrTaskLinked. Returns ErrPoolStopped once StopAndWait has been
// called.
func (p *WorkPool) Submit(t Task) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	idx := int(p.next.Add(1))
	if err := p.bank.submit(idx, t); err != nil {
		return err
	}
	if p.metrics != nil {
		var depth int64
		for i := 0; i < p.bank.len(); i++ {
			depth += p.bank.queues[i].approxLen()
		}
		p.metrics.Queue.UpdateRunQueue(int(depth))
	}
	p.g.release()
	return nil
}

// SubmitFunc wraps fn in a Task and submits it; each call allocates a
// fresh node since a bare func() has no TaskBase of its own.
func (p *WorkPool) SubmitFunc(fn func()) error {
	return p.Submit(TaskFunc(fn))
}

func (p *WorkPool) workerLoop(workerID int64, seed uint64) {
	defer p.wg.Done()
	n := p.bank.len()

	for {
		if !p.g.acquire() {
			return
		}
		LogWorkerWoke(p.logger, p.id, workerID, int(splitmix64(seed)%uint64(n)))

		// Drain every queue in the bank until none have work, regardless
		// of how many gate credits this wake-up actually consumed: the
		// gate count saturates at the thread count, so a submission
		// burst larger than that would otherwise strand tasks whose
		// release() call was a no-op.
		for {
			seed = splitmix64(seed)
			start := int(seed % uint64(n))
			t, ok := p.bank.drain(start)
			if !ok {
				break
			}
			p.runTask(t, workerID)
		}
		LogWorkerParked(p.logger, p.id, workerID)
	}
}

func (p *WorkPool) runTask(t Task, workerID int64) {
	if p.metrics != nil {
		start := time.Now()
		defer func() { p.metrics.Latency.Record(time.Since(start)) }()
	}
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			LogTaskPanicked(p.logger, p.id, workerID, r, stack[:n])
		}
	}()
	t.RunInPool()
}

// StopAndWait closes the gate, waking every parked worker so they exit
// once their current queue drain finds nothing left, then blocks until
// all worker goroutines have returned. A second call returns
// ErrPoolAlreadyStopped.
func (p *WorkPool) StopAndWait() error {
	if !p.stopped.CompareAndSwap(false, true) {
		return ErrPoolAlreadyStopped
	}
	p.g.close()
	p.wg.Wait()
	return nil
}

// Metrics returns the pool's metrics snapshot, or nil if
// WithPoolMetrics was not enabled.
func (p *WorkPool) Metrics() *Metrics { return p.metrics }

// splitmix64 is a small, fast, well-distributed PRNG step, used only to
// pick a worker's next probe-starting index; it need not be
// cryptographically strong, only cheap and well-mixed.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
