package netcore

import "sync/atomic"

// inputState packs an InputQueue's buffered length together with three
// flag bits into one 32-bit atomic word — the single coordination
// point between the selector role (HandleIOEvents) and the worker role
// (drainSocket), used for real single-flight dispatch rather than as a
// decorative mirror of state tracked elsewhere (spec §4.5). A
// level-triggered selector can report the same socket ready many times
// before a worker gets around to draining it; without this, the
// selector would submit a fresh drainSocket task on every one of those
// notifications even while one is already running.
const (
	inputLengthBits = 28
	inputLengthMask = 1<<inputLengthBits - 1

	// draining marks a drainSocket pass in flight; again is a retry
	// request set by the selector role when it observes draining
	// already set, so the active pass notices and loops instead of
	// parking; closed is terminal.
	inputDrainingBit = 1 << inputLengthBits
	inputAgainBit    = 1 << (inputLengthBits + 1)
	inputClosedBit   = 1 << 31
)

type inputState struct {
	_ [cacheLineSize]byte
	v atomic.Uint32
	_ [cacheLineSize - 4]byte
}

func newInputState() *inputState { return &inputState{} }

// load returns the buffered length and the three flag bits.
func (s *inputState) load() (length uint32, draining, again, closed bool) {
	raw := s.v.Load()
	return raw & inputLengthMask,
		raw&inputDrainingBit != 0,
		raw&inputAgainBit != 0,
		raw&inputClosedBit != 0
}

// addLength atomically adds delta to the buffered length, without
// disturbing the flag bits.
func (s *inputState) addLength(delta uint32) uint32 {
	for {
		old := s.v.Load()
		length := old & inputLengthMask
		newLength := (length + delta) & inputLengthMask
		newRaw := (old &^ inputLengthMask) | newLength
		if s.v.CompareAndSwap(old, newRaw) {
			return newLength
		}
	}
}

// consume atomically subtracts delta from the buffered length; delta
// is clamped to the current length.
func (s *inputState) consume(delta uint32) uint32 {
	for {
		old := s.v.Load()
		length := old & inputLengthMask
		if delta > length {
			delta = length
		}
		newRaw := (old &^ inputLengthMask) | (length - delta)
		if s.v.CompareAndSwap(old, newRaw) {
			return length - delta
		}
	}
}

// markClosed sets the closed bit without disturbing anything else.
func (s *inputState) markClosed() {
	for {
		old := s.v.Load()
		if old&inputClosedBit != 0 {
			return
		}
		if s.v.CompareAndSwap(old, old|inputClosedBit) {
			return
		}
	}
}

// tryStartDraining is the selector role's half of the handoff: it
// claims the draining bit for a freshly-submitted drainSocket call. If
// a drain is already in flight, it instead sets the again bit (a retry
// request the in-flight drain will notice before it parks) and reports
// that no new task should be submitted.
func (s *inputState) tryStartDraining() bool {
	for {
		old := s.v.Load()
		if old&inputClosedBit != 0 {
			return false
		}
		if old&inputDrainingBit != 0 {
			if old&inputAgainBit != 0 {
				return false
			}
			if s.v.CompareAndSwap(old, old|inputAgainBit) {
				return false
			}
			continue
		}
		if s.v.CompareAndSwap(old, old|inputDrainingBit) {
			return true
		}
	}
}

// finishDraining is the worker role's half: called once a drain pass
// has found nothing left to read. If a readiness notification arrived
// while this pass was running (the again bit), it clears again and
// keeps draining set, telling the caller to loop once more instead of
// parking — closing the gap between "last read came back empty" and
// "stopped claiming to be draining" where a notification could
// otherwise be silently dropped.
func (s *inputState) finishDraining() bool {
	for {
		old := s.v.Load()
		if old&inputAgainBit != 0 {
			if s.v.CompareAndSwap(old, old&^inputAgainBit) {
				return true
			}
			continue
		}
		if s.v.CompareAndSwap(old, old&^inputDrainingBit) {
			return false
		}
	}
}
