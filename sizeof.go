package netcore

// Cache-line padding constants, used to keep hot atomic fields (gate
// counters, queue head/tail) from false-sharing a line with their
// neighbors.
const (
	// cacheLineSize covers both x86-64 (64B) and Apple Silicon / other
	// ARM64 (128B) lines; 128 is the safe common denominator.
	cacheLineSize = 128

	// atomicUint64Size is sizeof(atomic.Uint64).
	atomicUint64Size = 8
)
