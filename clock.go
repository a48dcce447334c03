package stm

import (
	"golang.org/x/sys/cpu"
)

// versionClock is a single monotonic counter issuing commit
// timestamps, kept at least one cache line away from anything else so that
// the high-traffic clock bump does not false-share with the lock array or
// Runtime bookkeeping, using golang.org/x/sys/cpu.CacheLinePad for the
// padding.
//
// value is a plain uint64 rather than atomic.Uint64: clockNow/clockBump go
// through the same atomic.go wrappers every lock cell access does, matching
// the teacher's function-style sync/atomic calls on its own global clock.
type versionClock struct {
	_     cpu.CacheLinePad
	value uint64
	_     cpu.CacheLinePad
}

// clockNow samples the clock with acquire semantics.
func (c *versionClock) clockNow() uint64 {
	return loadAcquire(&c.value)
}

// clockBump issues the next commit timestamp.
func (c *versionClock) clockBump() uint64 {
	return fetchAddSeqCst(&c.value, 1)
}

// clockReset zeroes the clock. Only called from inside the quiescence
// barrier, with every other transaction parked.
func (c *versionClock) clockReset() {
	storeSeqCst(&c.value, 0)
}
