package netcore

import "sync/atomic"

// outputState packs an OutputQueue's write cursor, contiguous-readable
// watermark, and a 6-bit active-writer bitmask (plus a closed flag)
// into one atomic word — this word, not any mutex, is the entire
// write-side synchronization mechanism for OutputQueue (spec §4.4).
// offs and start are relative to the current block-chain base, not a
// global byte count: RemoveData renormalizes both downward whenever it
// frees a fully-consumed block, which is why 24 bits (about 16MB of
// in-flight/unconsumed data) is enough range for either field
// regardless of how long the queue lives.
const (
	outputOffsBits    = 24
	outputStartBits   = 24
	outputWritersBits = 8

	outputOffsMask    = 1<<outputOffsBits - 1
	outputStartMask   = 1<<outputStartBits - 1
	outputWritersMask = 1<<outputWritersBits - 1

	outputStartShift   = outputOffsBits
	outputWritersShift = outputOffsBits + outputStartBits

	// outputWriterSlotMask covers the low maxOutputWriters bits of the
	// writers field: a bitmask of which writer slots are currently
	// reserved but not yet retired. outputClosedBit is the next bit up,
	// repurposing the same field as a close flag rather than spending a
	// whole separate word on it.
	outputWriterSlotMask = 1<<maxOutputWriters - 1
	outputClosedBit      = 1 << maxOutputWriters
)

// outputStateGrowing is a sentinel value (all bits set, never produced
// by packOutputState since the writers field never sets its top bits)
// stored while a block-chain mutation — growing the tail or RemoveData
// shrinking the head — is in progress. It doubles as a mutual-exclusion
// token: only the goroutine that CASed the real word to this value may
// touch head/tail/blockCount, and everyone else who observes it just
// retries instead of reading the chain mid-mutation.
const outputStateGrowing = ^uint64(0)

func packOutputState(offs, start uint32, writers uint8) uint64 {
	return uint64(offs&outputOffsMask) |
		uint64(start&outputStartMask)<<outputStartShift |
		uint64(writers&outputWritersMask)<<outputWritersShift
}

func unpackOutputState(v uint64) (offs, start uint32, writers uint8) {
	offs = uint32(v & outputOffsMask)
	start = uint32((v >> outputStartShift) & outputStartMask)
	writers = uint8((v >> outputWritersShift) & outputWritersMask)
	return
}

// firstFreeWriterSlot returns the index of an unclaimed bit among the
// low maxOutputWriters bits of writers, i.e. a free writer slot.
func firstFreeWriterSlot(writers uint8) (uint8, bool) {
	active := writers & outputWriterSlotMask
	for i := uint8(0); i < maxOutputWriters; i++ {
		if active&(1<<i) == 0 {
			return i, true
		}
	}
	return 0, false
}

type outputState struct {
	_ [cacheLineSize]byte
	v atomic.Uint64
	_ [cacheLineSize - atomicUint64Size]byte
}

func newOutputState() *outputState {
	s := &outputState{}
	s.v.Store(packOutputState(0, 0, 0))
	return s
}
