package netcore

import "sync/atomic"

// atomicBoolFlag is a one-way false->true latch, used for the
// "started" and "closed" flags on InputQueue where only the first
// transition matters and callers need to know whether *they* were the
// one who made it.
type atomicBoolFlag struct {
	v atomic.Bool
}

// set attempts the false->true transition, returning true only for the
// caller that performed it.
func (f *atomicBoolFlag) set() bool {
	return f.v.CompareAndSwap(false, true)
}

func (f *atomicBoolFlag) isSet() bool {
	return f.v.Load()
}
