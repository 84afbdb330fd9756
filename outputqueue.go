package netcore

import (
	"runtime"
	"sync/atomic"
)

const maxOutputWriters = 6

// errBox lets Close's cause travel through an atomic.Value using one
// consistent concrete type across every call (atomic.Value panics if
// Store ever sees two different concrete types, and can't hold a bare
// nil error directly).
type errBox struct{ err error }

// OutputQueue accepts concurrent byte writes from up to
// maxOutputWriters writer goroutines via AddData, staging them into a
// chain of fixed-size dataBlocks, and reports per-write how many bytes
// it made newly contiguous-readable at the head. A single reader
// drains with GetData and RemoveData (spec §4.4).
//
// The write side is lock-free, built entirely on outputState's packed
// word: a writer reserves a disjoint byte range and a slot in the
// 6-bit writer bitmask with a single CAS, copies its bytes into
// (already-grown) block storage without holding anything, then retires
// its slot with a second CAS that advances the contiguous-readable
// watermark once every writer reserved ahead of it has already retired
// — a sequence barrier, not a lock: a writer waiting on its own
// retirement never stops any other writer from reserving or copying.
// Chain growth, and RemoveData's chain shrink, both borrow the state
// word's all-ones sentinel as a mutual-exclusion token: whichever
// goroutine CASes the real word to the sentinel owns
// head/tail/blockCount until it CASes back, and everyone else just
// retries.
type OutputQueue struct {
	opts    *queueOptions
	blocks  *blockPool
	state   *outputState
	logger  Logger
	metrics *Metrics

	head, tail atomic.Pointer[dataBlock]
	blockCount atomic.Int32

	readCursor uint64 // reader-owned; writers never touch this
	closeErr   atomic.Value
}

// NewOutputQueue constructs an empty OutputQueue with one initial
// block.
func NewOutputQueue(opts ...QueueOption) *OutputQueue {
	cfg := resolveQueueOptions(opts)
	q := &OutputQueue{
		opts:   cfg,
		blocks: newBlockPool(cfg.blockSize, cfg.useDirectBuffers),
		state:  newOutputState(),
		logger: cfg.logger,
	}
	if q.logger == nil {
		q.logger = getGlobalLogger()
	}
	if cfg.metricsEnabled {
		q.metrics = &Metrics{}
	}
	first := q.blocks.get()
	q.head.Store(first)
	q.tail.Store(first)
	q.blockCount.Store(1)
	return q
}

// AddData copies p into the queue and returns how many bytes became
// newly contiguous-readable once this call's range retires — always
// len(p) on success, since a writer only retires once the watermark
// has caught up to its own reservation. Safe for up to
// maxOutputWriters concurrent callers; per spec §7, a saturated writer
// bitmask is retried internally and never surfaced as an error.
func (q *OutputQueue) AddData(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if uint64(len(p)) > outputOffsMask {
		return 0, ErrChunkTooLarge
	}

	var start, end uint32
	var slot uint8
	for {
		raw := q.state.v.Load()
		if raw == outputStateGrowing {
			runtime.Gosched()
			continue
		}
		offs, watermark, writers := unpackOutputState(raw)
		if writers&outputClosedBit != 0 {
			return 0, ErrOutputQueueClosed
		}
		s, ok := firstFreeWriterSlot(writers)
		if !ok {
			// All six writer slots are claimed; retry rather than
			// surface the saturation to the caller.
			runtime.Gosched()
			continue
		}
		newOffs := uint64(offs) + uint64(len(p))
		if newOffs > outputOffsMask {
			return 0, ErrChunkTooLarge
		}

		blockSize := uint64(q.opts.blockSize)
		needed := int((newOffs + blockSize - 1) / blockSize)
		if needed > int(q.blockCount.Load()) {
			if !q.state.v.CompareAndSwap(raw, outputStateGrowing) {
				continue
			}
			q.growExclusive(needed)
			newWriters := writers | (1 << s)
			q.state.v.Store(packOutputState(uint32(newOffs), watermark, newWriters))
			start, end, slot = offs, uint32(newOffs), s
			break
		}

		newWriters := writers | (1 << s)
		if q.state.v.CompareAndSwap(raw, packOutputState(uint32(newOffs), watermark, newWriters)) {
			start, end, slot = offs, uint32(newOffs), s
			break
		}
	}

	q.copyRange(uint64(start), p)
	return q.retire(slot, start, end), nil
}

// growExclusive appends blocks until the chain holds at least
// neededBlocks. Called only by the goroutine that just won the
// sentinel CAS in AddData, making it the sole
// reader/writer of head/tail/blockCount for the duration: every other
// goroutine either hasn't reached the chain yet (still retrying on the
// sentinel) or already observed the capacity this call is about to
// provide, via the same happens-before edge that let it skip growth
// and reserve directly.
func (q *OutputQueue) growExclusive(neededBlocks int) {
	for int(q.blockCount.Load()) < neededBlocks {
		b := q.blocks.get()
		q.tail.Load().next.Store(b)
		q.tail.Store(b)
		q.blockCount.Add(1)
	}
}

// copyRange walks the chain (already guaranteed to have capacity) and
// copies p into the block-relative slots for [start, start+len(p)).
// Concurrent callers touch disjoint byte ranges, so no synchronization
// is needed here beyond the happens-before edge already established by
// the reservation CAS/Store in AddData.
func (q *OutputQueue) copyRange(start uint64, p []byte) {
	blockSize := uint64(q.opts.blockSize)
	blockIdx := start / blockSize
	offset := int(start % blockSize)

	b := q.blockAt(int(blockIdx))
	for len(p) > 0 {
		n := copy(b.buf[offset:], p)
		b.bumpWW(offset + n)
		p = p[n:]
		offset = 0
		if len(p) > 0 {
			b = b.next.Load()
		}
	}
}

// blockAt walks the chain to the block at index idx.
func (q *OutputQueue) blockAt(idx int) *dataBlock {
	b := q.head.Load()
	for i := 0; i < idx; i++ {
		b = b.next.Load()
	}
	return b
}

// retire advances the contiguous-readable watermark from start to end,
// but only once the watermark has already reached start: writers with
// earlier-reserved ranges retire first, so a writer whose range isn't
// at the front of the queue spins until it is — the sequence-barrier
// half of the protocol described on OutputQueue. Always succeeds
// eventually: reservation order is total and every writer ahead of
// this one is guaranteed to retire in finite time.
func (q *OutputQueue) retire(slot uint8, start, end uint32) int {
	for {
		raw := q.state.v.Load()
		if raw == outputStateGrowing {
			runtime.Gosched()
			continue
		}
		offs, watermark, writers := unpackOutputState(raw)
		if watermark != start {
			runtime.Gosched()
			continue
		}
		newWriters := writers &^ (1 << slot)
		if q.state.v.CompareAndSwap(raw, packOutputState(offs, end, newWriters)) {
			if q.metrics != nil {
				q.metrics.Queue.UpdateOutputQueue(int(q.blockCount.Load()))
			}
			return int(end - start)
		}
	}
}

// GetData copies up to len(p) bytes from the contiguously-readable
// region into p, without consuming them (a subsequent GetData call may
// re-read the same bytes). Call RemoveData to advance past what was
// actually consumed. Single-reader only.
func (q *OutputQueue) GetData(p []byte) (int, error) {
	raw := q.state.v.Load()
	for raw == outputStateGrowing {
		runtime.Gosched()
		raw = q.state.v.Load()
	}
	_, watermark, writers := unpackOutputState(raw)

	avail := uint64(watermark) - q.readCursor
	if avail == 0 {
		if writers&outputClosedBit != 0 {
			return 0, q.loadCloseErr()
		}
		return 0, nil
	}

	blockSize := uint64(q.opts.blockSize)
	cursor := q.readCursor
	readableEnd := cursor + avail
	b := q.blockAt(int(cursor / blockSize))
	offset := int(cursor % blockSize)

	total := 0
	for total < len(p) && cursor < readableEnd {
		end := int(b.ww.Load())
		if rest := int(readableEnd - cursor); end-offset > rest {
			end = offset + rest
		}
		n := copy(p[total:], b.buf[offset:end])
		total += n
		cursor += uint64(n)
		offset += n
		if offset >= b.cap() && cursor < readableEnd {
			b = b.next.Load()
			offset = 0
		}
	}
	return total, nil
}

// RemoveData advances the read cursor by n bytes (n must not exceed
// what GetData has made available) and, when no writer holds a
// reservation, releases any block fully behind the new cursor back to
// the pool, renormalizing the packed state's offsets down by the same
// amount under the same mutual-exclusion sentinel AddData's growth
// path uses.
func (q *OutputQueue) RemoveData(n int) error {
	if n < 0 {
		return WrapError("netcore: remove_data", ErrChunkTooLarge)
	}
	if n == 0 {
		return nil
	}

	for {
		raw := q.state.v.Load()
		if raw == outputStateGrowing {
			runtime.Gosched()
			continue
		}
		offs, watermark, writers := unpackOutputState(raw)
		if uint64(n) > uint64(watermark)-q.readCursor {
			return WrapError("netcore: remove_data exceeds readable region", ErrChunkTooLarge)
		}

		blockSize := uint64(q.opts.blockSize)
		newReadCursor := q.readCursor + uint64(n)
		if int(q.blockCount.Load()) <= 1 || newReadCursor < blockSize || writers&outputWriterSlotMask != 0 {
			// No block crosses out of the readable region, or a writer
			// still holds a reservation in the current offsets; nothing
			// touches the chain, so the reader-owned cursor can just move
			// and a later call frees the consumed blocks.
			q.readCursor = newReadCursor
			return nil
		}

		if !q.state.v.CompareAndSwap(raw, outputStateGrowing) {
			continue
		}
		var shift uint32
		for int(q.blockCount.Load()) > 1 && newReadCursor >= blockSize {
			old := q.head.Load()
			q.head.Store(old.next.Load())
			q.blockCount.Add(-1)
			newReadCursor -= blockSize
			shift += uint32(blockSize)
			q.blocks.put(old)
		}
		q.readCursor = newReadCursor
		q.state.v.Store(packOutputState(offs-shift, watermark-shift, writers))
		return nil
	}
}

// Close marks the queue closed; further AddData calls fail with
// ErrOutputQueueClosed, and GetData returns (0, cause) once the
// readable region is drained. Safe to call more than once; only the
// first call's cause is kept.
func (q *OutputQueue) Close(cause error) {
	if !q.closeErr.CompareAndSwap(nil, &errBox{cause}) {
		return
	}
	for {
		raw := q.state.v.Load()
		if raw == outputStateGrowing {
			runtime.Gosched()
			continue
		}
		offs, watermark, writers := unpackOutputState(raw)
		if writers&outputClosedBit != 0 {
			return
		}
		if q.state.v.CompareAndSwap(raw, packOutputState(offs, watermark, writers|outputClosedBit)) {
			LogQueueClosed(q.logger, "outputqueue", cause)
			return
		}
	}
}

func (q *OutputQueue) loadCloseErr() error {
	if v := q.closeErr.Load(); v != nil {
		return v.(*errBox).err
	}
	return nil
}

// Metrics returns the queue's metrics snapshot, or nil if
// WithQueueMetrics was not enabled.
func (q *OutputQueue) Metrics() *Metrics { return q.metrics }
