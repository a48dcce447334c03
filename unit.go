package stm

import "runtime"

// Unit (non-transactional) accesses, for code that touches a
// Var outside any Atomically block — typically initialization, or a hot
// path the caller has already proven is single-writer. A unit access still takes the
// address's lock cell for the duration of the write, so it is never torn
// with respect to a concurrent transactional Store, but it never retries
// and never builds a read set: callers outside a transaction have no
// conflict to recover from.

// UnitLoad reads v's current value along with the version stamp observed at
// the time of the read. The stamp lets a caller detect whether the value it
// just read could have changed since, without itself starting a
// transaction.
func UnitLoad(rt *Runtime, v *Var) (value Word, stamp uint64) {
	c := rt.locks.cellOf(varAddr(v))
	for {
		l := c.loadAcquire()
		if wordIsUnit(l) || wordIsOwned(l) {
			// A transaction or another unit access holds the cell; its
			// value may be mid-write (WT) or about to be overwritten at
			// commit (WB), so there is nothing safe to read yet. Spin
			// until it releases rather than returning a torn snapshot.
			runtime.Gosched()
			continue
		}
		val := v.peek()
		if c.loadAcquire() != l {
			continue
		}
		return val, wordVersion(l)
	}
}

// UnitStore writes val to v non-transactionally, replacing the full word.
func UnitStore(rt *Runtime, v *Var, val Word) bool {
	return UnitStoreMasked(rt, v, val, maskAll, nil)
}

// UnitStoreMasked writes the bits selected by mask to v non-transactionally.
// If optStamp is non-nil, the store is refused (and false returned) unless
// v's cell still carries that exact version when the write would otherwise
// begin — a compare-and-refuse precondition that lets a caller who holds a
// stamp from an earlier UnitLoad avoid clobbering a value it never saw
// change underneath it. A nil optStamp always applies unconditionally.
//
// Applying the write itself spins until the address's cell is unowned,
// marks it UNIT for the duration of the write so no transaction can observe
// a torn value, then publishes a fresh version.
func UnitStoreMasked(rt *Runtime, v *Var, val, mask Word, optStamp *uint64) bool {
	c := rt.locks.cellOf(varAddr(v))
	for {
		l := c.loadAcquire()
		if wordIsOwned(l) || wordIsUnit(l) {
			runtime.Gosched()
			continue
		}
		if optStamp != nil && wordVersion(l) != *optStamp {
			return false
		}
		if !c.markUnit(l) {
			continue
		}
		break
	}

	v.publish(composeMask(v.peek(), val, mask))

	for {
		ts := rt.clock.clockNow()
		if ts >= rt.cfg.VersionMax {
			// Another thread must be allowed to drive the rollover
			// barrier; release to the current (still-valid, about to be
			// reset) version and let the next transactional Begin trigger
			// rolloverIfNeeded. A unit store never initiates the barrier
			// itself, since doing so while holding no Txn would bypass
			// the liveCount bookkeeping enterActive/exitActive maintain.
			storeRelease(&c.state, makeUnowned(ts))
			return true
		}
		next := rt.clock.clockBump()
		storeRelease(&c.state, makeUnowned(next))
		return true
	}
}
