package stm

import "sync/atomic"

// Var is one shared, word-sized, transactionally-managed memory location,
// the stand-in for "address of a machine word". It carries no lock of its
// own: ownership is tracked entirely in the Runtime's lock array, keyed by
// the Var's address identity (a hash of an address selects its cell; the
// mapping is many-to-one, so false sharing across unrelated Vars is
// possible and acceptable). That is also what makes StoreMasked's bit mask
// over a Word meaningful.
type Var struct {
	committed atomic.Uint64
}

// NewVar creates a Var holding the given initial value. The value is
// visible to unit loads and to any transaction beginning after this call
// returns; it must not be constructed concurrently with transactions that
// might already reference it.
func NewVar(initial Word) *Var {
	v := &Var{}
	v.committed.Store(initial)
	return v
}

// peek reads the Var's committed value directly, bypassing any lock
// protocol. Only safe to call while the caller already knows, by some other
// means (holding the cell's ownership, or under quiescence), that no
// concurrent writer can be mid-publish.
func (v *Var) peek() Word {
	return v.committed.Load()
}

func (v *Var) publish(val Word) {
	v.committed.Store(val)
}

// composeMask applies masked-write rule: the bits selected by
// mask come from newValue, every other bit is preserved from old.
func composeMask(old, newValue, mask Word) Word {
	return (old &^ mask) | (newValue & mask)
}

const maskAll Word = ^Word(0)
