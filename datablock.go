package netcore

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// dataBlock is a fixed-capacity byte buffer chained into the block
// lists backing OutputQueue and InputQueue. ww ("write watermark") is
// atomic because OutputQueue lets more than one writer land bytes in
// the same block concurrently (their ranges are disjoint, but not
// necessarily aligned to which writer's range reaches furthest); rw
// ("read watermark") stays a plain int, since both queues only ever
// have a single reader. next is also atomic, so a reader or writer can
// walk the chain while another writer is concurrently extending the
// tail.
type dataBlock struct {
	buf    []byte
	ww     atomic.Int32
	rw     int
	next   atomic.Pointer[dataBlock]
	direct bool
}

func allocBlock(size int, direct bool) (*dataBlock, error) {
	b := &dataBlock{direct: direct}
	if !direct {
		b.buf = make([]byte, size)
		return b, nil
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, WrapError("netcore: direct block alloc", err)
	}
	b.buf = buf
	return b, nil
}

// release returns OS-backed memory; heap blocks just drop the
// reference for the GC. Safe to call once per block.
func (b *dataBlock) release() error {
	if !b.direct || b.buf == nil {
		return nil
	}
	err := unix.Munmap(b.buf)
	b.buf = nil
	return err
}

// cap returns the block's fixed capacity.
func (b *dataBlock) cap() int { return len(b.buf) }

// free returns how many bytes remain writable in this block.
func (b *dataBlock) free() int { return len(b.buf) - int(b.ww.Load()) }

// unread returns how many bytes are written but not yet consumed.
func (b *dataBlock) unread() int { return int(b.ww.Load()) - b.rw }

// write appends as much of p as fits, returning the number of bytes
// copied. For the single-writer case (InputQueue); callers are
// responsible for giving the block a fresh successor once free()
// reaches zero.
func (b *dataBlock) write(p []byte) int {
	ww := int(b.ww.Load())
	n := copy(b.buf[ww:], p)
	b.ww.Store(int32(ww + n))
	return n
}

// bumpWW advances ww to max(ww, to) via CAS. OutputQueue can have more
// than one writer land bytes in the same block (their byte ranges are
// disjoint but not necessarily ordered by block-local offset), so this
// can't be a plain store.
func (b *dataBlock) bumpWW(to int) {
	for {
		cur := b.ww.Load()
		if int32(to) <= cur {
			return
		}
		if b.ww.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// read copies from [rw:ww) into p, advancing rw, and returns the
// number of bytes copied. Single-reader only.
func (b *dataBlock) read(p []byte) int {
	n := copy(p, b.buf[b.rw:int(b.ww.Load())])
	b.rw += n
	return n
}

// blockPool recycles same-size, same-kind dataBlocks to avoid repeated
// mmap/make calls on the hot path of a long-lived queue.
type blockPool struct {
	size   int
	direct bool
	pool   sync.Pool
}

func newBlockPool(size int, direct bool) *blockPool {
	bp := &blockPool{size: size, direct: direct}
	bp.pool.New = func() interface{} {
		b, err := allocBlock(bp.size, bp.direct)
		if err != nil {
			// Direct allocation failures are rare (address space/limits
			// exhaustion) and not recoverable from inside sync.Pool.New;
			// fall back to a heap block rather than panic the caller.
			b, _ = allocBlock(bp.size, false)
		}
		return b
	}
	return bp
}

func (bp *blockPool) get() *dataBlock {
	b := bp.pool.Get().(*dataBlock)
	b.ww.Store(0)
	b.rw = 0
	b.next.Store(nil)
	return b
}

func (bp *blockPool) put(b *dataBlock) {
	if b.cap() != bp.size || b.direct != bp.direct {
		// Mismatched block (e.g. a fallback heap block handed back to a
		// direct pool): release it instead of poisoning the pool.
		_ = b.release()
		return
	}
	bp.pool.Put(b)
}
