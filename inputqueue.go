package netcore

import "sync"

// DataHandler receives bytes read off an InputQueue's socket, and a
// terminal notification once the queue stops (EOF, socket error, or an
// explicit Stop call).
type DataHandler interface {
	OnData(p []byte)
	OnClose(err error)
}

// InputQueue couples a selector role (arms socket read-readiness) with
// a worker role (performs the actual read, buffers into a block chain,
// and invokes a DataHandler) through inputState, a compact atomic
// state word (spec §4.5). HandleIOEvents and drainSocket coordinate
// single-flight dispatch through that word rather than through any
// lock: the selector goroutine only ever calls HandleIOEvents, which
// hands the real work to a WorkPool so the selector's poll loop never
// blocks on application callback code, and a level-triggered readiness
// storm never queues more than one drain pass at a time.
type InputQueue struct {
	opts    *queueOptions
	blocks  *blockPool
	state   *inputState
	logger  Logger
	metrics *Metrics

	socket   Socket
	selector Selector
	pool     *WorkPool
	handler  DataHandler

	mu          sync.Mutex // guards the block chain and cursors, single-writer
	head, tail  *dataBlock
	blockCount  int
	writeCursor uint64
	readCursor  uint64

	started atomicBoolFlag
	closed  atomicBoolFlag
}

// NewInputQueue constructs an empty, unstarted InputQueue. Call
// SetListenerAndStart to attach it to a socket, selector and pool.
func NewInputQueue(opts ...QueueOption) *InputQueue {
	cfg := resolveQueueOptions(opts)
	q := &InputQueue{
		opts:   cfg,
		blocks: newBlockPool(cfg.blockSize, cfg.useDirectBuffers),
		state:  newInputState(),
		logger: cfg.logger,
	}
	if q.logger == nil {
		q.logger = getGlobalLogger()
	}
	if cfg.metricsEnabled {
		q.metrics = &Metrics{}
	}
	first := q.blocks.get()
	q.head, q.tail = first, first
	q.blockCount = 1
	return q
}

// SetListenerAndStart registers socket with selector for read
// readiness and begins dispatching data to handler via pool workers.
// Returns ErrInputQueueStarted if called more than once.
func (q *InputQueue) SetListenerAndStart(socket Socket, selector Selector, pool *WorkPool, handler DataHandler) error {
	if !q.started.set() {
		return ErrInputQueueStarted
	}
	q.socket = socket
	q.selector = selector
	q.pool = pool
	q.handler = handler
	return selector.RegisterFD(socket.FD(), EventRead, q)
}

// HandleIOEvents implements SelectorHandler; it is the only method the
// selector goroutine calls directly. It never performs a read itself:
// it either dispatches a drainSocket task to the pool, or — if one is
// already in flight — records a retry request in inputState and
// returns, trusting the in-flight pass to notice it.
func (q *InputQueue) HandleIOEvents(events IOEvents) {
	if q.closed.isSet() {
		return
	}
	if events&(EventError|EventHangup) != 0 {
		_ = q.Stop(WrapError("netcore: socket closed", ErrInputQueueClosed))
		return
	}
	if events&EventRead == 0 {
		return
	}
	if !q.state.tryStartDraining() {
		return
	}
	_ = q.pool.SubmitFunc(q.drainSocket)
}

// drainSocket is the worker-role half of the pair: it performs
// non-blocking reads until the socket has no more data immediately
// available, buffering into the block chain and delivering completed
// reads to the handler. Before parking, it hands the draining bit back
// through inputState.finishDraining, which re-arms the loop instead if
// a readiness notification raced the end of this pass.
func (q *InputQueue) drainSocket() {
	for {
		q.drainOnce()
		if q.closed.isSet() {
			return
		}
		if q.state.finishDraining() {
			continue
		}
		return
	}
}

// drainOnce reads non-blocking until the socket reports no more data
// immediately available, an error, or a short read.
func (q *InputQueue) drainOnce() {
	for {
		if q.closed.isSet() {
			return
		}
		q.mu.Lock()
		if q.tail.free() == 0 {
			b := q.blocks.get()
			q.tail.next.Store(b)
			q.tail = b
			q.blockCount++
		}
		buf := q.tail.buf[q.tail.ww.Load():]
		q.mu.Unlock()

		n, err := q.socket.ReadNonBlocking(buf)
		if n > 0 {
			q.mu.Lock()
			q.tail.ww.Add(int32(n))
			q.writeCursor += uint64(n)
			q.mu.Unlock()
			q.state.addLength(uint32(n))
			if q.metrics != nil {
				q.metrics.Queue.UpdateInputQueue(q.blockCount)
			}
			q.deliver()
		}
		if err != nil {
			_ = q.Stop(err)
			return
		}
		if n == 0 || n < len(buf) {
			// Socket drained for now; HandleIOEvents or finishDraining's
			// re-arm will notice the next readiness edge.
			return
		}
	}
}

// deliver copies everything buffered since the last delivery into a
// fresh slice and hands it to the handler, then frees fully-consumed
// blocks back to the pool.
func (q *InputQueue) deliver() {
	q.mu.Lock()
	avail := q.writeCursor - q.readCursor
	if avail == 0 {
		q.mu.Unlock()
		return
	}
	p := make([]byte, avail)
	blockSize := uint64(q.opts.blockSize)
	cursor := q.readCursor
	b := q.blockAtLocked(int(cursor / blockSize))
	offset := int(cursor % blockSize)

	total := uint64(0)
	for total < avail {
		n := copy(p[total:], b.buf[offset:int(b.ww.Load())])
		total += uint64(n)
		cursor += uint64(n)
		offset += n
		if offset >= b.cap() && total < avail {
			b = b.next.Load()
			offset = 0
		}
	}
	q.readCursor = cursor
	q.state.consume(uint32(avail))

	for q.blockCount > 1 && q.readCursor >= blockSize {
		old := q.head
		q.head = q.head.next.Load()
		q.blockCount--
		q.readCursor -= blockSize
		q.writeCursor -= blockSize
		q.blocks.put(old)
	}
	handler := q.handler
	q.mu.Unlock()

	if handler != nil {
		handler.OnData(p)
	}
}

func (q *InputQueue) blockAtLocked(idx int) *dataBlock {
	b := q.head
	for i := 0; i < idx; i++ {
		b = b.next.Load()
	}
	return b
}

// BufferedLength reports how many bytes are currently buffered and not
// yet delivered to the handler.
func (q *InputQueue) BufferedLength() uint32 {
	length, _, _, _ := q.state.load()
	return length
}

// Stop unregisters from the selector (if started) and notifies the
// handler exactly once. Safe to call multiple times and from any
// goroutine; only the first call has effect.
func (q *InputQueue) Stop(cause error) error {
	if !q.closed.set() {
		return nil
	}
	q.state.markClosed()
	if q.selector != nil && q.socket != nil {
		_ = q.selector.UnregisterFD(q.socket.FD())
	}
	LogQueueClosed(q.logger, "inputqueue", cause)
	if q.handler != nil {
		q.handler.OnClose(cause)
	}
	return nil
}

// Metrics returns the queue's metrics snapshot, or nil if
// WithQueueMetrics was not enabled.
func (q *InputQueue) Metrics() *Metrics { return q.metrics }
