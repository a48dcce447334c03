package stm

import "runtime"

// wtEntry is a write-through undo-log entry: oldValue is the full word v
// carried the first time this transaction touched it, snapshotted before
// the in-place write. next chains every entry that hashes into the same
// lock cell, the same way wbetlEntry does, so a MODULAR kill can steal the
// whole cell (and its undo history) rather than just one address.
type wtEntry struct {
	addr     *Var
	mask     Word
	oldValue Word
	cellPtr  *cell
	owner    *Txn
	next     *wtEntry
}

type wtWriteSet struct {
	entries []*wtEntry
	byAddr  map[*Var]*wtEntry
	byCell  map[*cell]*wtEntry
}

func newWTWriteSet() *wtWriteSet {
	return &wtWriteSet{
		entries: make([]*wtEntry, 0, rwSetInitialSize),
		byAddr:  make(map[*Var]*wtEntry, rwSetInitialSize),
		byCell:  make(map[*cell]*wtEntry, rwSetInitialSize),
	}
}

func (ws *wtWriteSet) reset() {
	ws.entries = ws.entries[:0]
	clear(ws.byAddr)
	clear(ws.byCell)
}

func (ws *wtWriteSet) len() int { return len(ws.entries) }

// wtDiscipline is write-through: a store acquires its cell and publishes the
// new value to the Var immediately, keeping only the pre-write image for
// undo. Aborting restores every touched Var from its undo image and
// releases each cell with a bumped incarnation rather than a version, so a
// concurrent reader that speculatively observed the dirty in-place write
// is guaranteed to see a changed state word even though the version
// itself never advanced.
type wtDiscipline struct{}

func (wtDiscipline) initWriteSet(t *Txn)  { t.writes = newWTWriteSet() }
func (wtDiscipline) resetWriteSet(t *Txn) { t.writes.(*wtWriteSet).reset() }

// chainFor returns the head of the write-set chain t owns on c, or nil if
// c is unowned or owned by someone else. Mirrors wbetlDiscipline.ownsCell:
// a second store hashing onto an already-self-owned cell prepends a new
// entry instead of re-acquiring, so a kill can steal the whole chain.
func (wtDiscipline) chainFor(t *Txn, c *cell) *wtEntry {
	owner := c.owner.Load()
	if owner == nil || owner.wt == nil || owner.wt.owner != t {
		return nil
	}
	return owner.wt
}

// unwindChain restores every address a chain touched to its pre-acquisition
// value, walking from the newest entry to the oldest.
func unwindChain(head *wtEntry) {
	for e := head; e != nil; e = e.next {
		e.addr.publish(e.oldValue)
	}
}

// releaseUndoneWrite releases c after an undo (abort or kill-cleanup of a
// write-through owner), publishing a state a concurrent reader is
// guaranteed to see as changed. Ordinarily that is a bumped incarnation
// (spec.md §4.G.7/R3); once incarnation has cycled all the way back to
// incarnationMax, bumping it again would wrap to 0 — a value some
// concurrent reader may already have validated against before this abort —
// so the cell instead publishes a fresh global clock timestamp, the same
// escape the C source uses to break the cycle.
func releaseUndoneWrite(t *Txn, c *cell) {
	incarnation := wordIncarnation(c.loadAcquire())
	if incarnation >= incarnationMax {
		c.releaseToVersion(t.rt.clock.clockBump())
		return
	}
	c.releaseToIncarnation(incarnation + 1)
}

func (d wtDiscipline) load(t *Txn, v *Var) (Word, error) {
	c := t.rt.locks.cellOf(varAddr(v))
	for {
		l := c.loadAcquire()
		if wordIsUnit(l) {
			runtime.Gosched()
			continue
		}
		if wordIsOwned(l) {
			if wordIsReadLocked(l) {
				owner := c.owner.Load()
				if owner.readVersion > t.end {
					if !t.Extend() {
						t.abortInternal(ValRead)
						return 0, &conflict{reason: ValRead}
					}
					continue
				}
				t.reads.append(c, makeUnowned(owner.readVersion))
				return v.peek(), nil
			}
			if d.chainFor(t, c) != nil {
				return v.peek(), nil
			}
			owner := c.owner.Load()
			var conflictOwner *Txn
			if owner != nil && owner.wt != nil {
				conflictOwner = owner.wt.owner
			}
			if t.rt.cm.decide(t, c, conflictOwner, RWConflict) == cmKilledOwner {
				// The owner's in-place write is dirty; nothing here is safe
				// to read straight through the way WB/ETL reads through a
				// killed owner's deferred write. Clean up the owner's chain
				// in its place and retry against the now-unowned cell.
				unwindChain(owner.wt)
				releaseUndoneWrite(t, c)
				continue
			}
			t.abortInternal(RWConflict)
			return 0, &conflict{reason: RWConflict}
		}

		val := v.peek()
		if c.loadAcquire() != l {
			continue
		}
		version := wordVersion(l)
		if version > t.end {
			if !t.Extend() {
				t.abortInternal(ValRead)
				return 0, &conflict{reason: ValRead}
			}
			continue
		}
		// store the raw state word, not just the decoded version: a later
		// validate must also notice an incarnation bump left by some other
		// transaction's aborted write-through, which does not change the
		// decoded version at all.
		t.reads.append(c, l)
		return val, nil
	}
}

func (d wtDiscipline) store(t *Txn, v *Var, val, mask Word) error {
	ws := t.writes.(*wtWriteSet)
	if e, ok := ws.byAddr[v]; ok {
		v.publish(composeMask(v.peek(), val, mask))
		e.mask |= mask
		return nil
	}

	c := t.rt.locks.cellOf(varAddr(v))
	for {
		l := c.loadAcquire()
		if wordIsUnit(l) {
			runtime.Gosched()
			continue
		}
		if wordIsOwned(l) {
			if wordIsReadLocked(l) {
				owner := c.owner.Load()
				if t.rt.cm.decide(t, c, owner.tx, WRConflict) == cmKilledOwner {
					// The killed reader never wrote anything, so stealing
					// is safe without any unwind: just take the cell.
					e := &wtEntry{addr: v, mask: mask, oldValue: v.peek(), cellPtr: c, owner: t}
					c.stealFromRead(&ownerRef{wt: e})
					ws.entries = append(ws.entries, e)
					ws.byAddr[v] = e
					ws.byCell[c] = e
					v.publish(composeMask(v.peek(), val, mask))
					return nil
				}
				t.abortInternal(WRConflict)
				return &conflict{reason: WRConflict}
			}
			if head := d.chainFor(t, c); head != nil {
				e := &wtEntry{addr: v, mask: mask, oldValue: v.peek(), cellPtr: c, owner: t, next: head}
				ws.entries = append(ws.entries, e)
				ws.byAddr[v] = e
				ws.byCell[c] = e
				c.owner.Store(&ownerRef{wt: e})
				v.publish(composeMask(v.peek(), val, mask))
				return nil
			}
			owner := c.owner.Load()
			var conflictOwner *Txn
			if owner != nil && owner.wt != nil {
				conflictOwner = owner.wt.owner
			}
			if t.rt.cm.decide(t, c, conflictOwner, WWConflict) == cmKilledOwner {
				// Clean up the killed owner's dirty writes, then fall through
				// to the unowned branch below to acquire fresh rather than
				// duplicating the acquisition logic here.
				unwindChain(owner.wt)
				releaseUndoneWrite(t, c)
				continue
			}
			t.abortInternal(WWConflict)
			return &conflict{reason: WWConflict}
		}

		version := wordVersion(l)
		if version > t.end && t.reads.hasCell(c) {
			t.abortInternal(ValWrite)
			return &conflict{reason: ValWrite}
		}
		e := &wtEntry{addr: v, mask: mask, cellPtr: c, owner: t}
		if !c.tryAcquireWrite(l, &ownerRef{wt: e}) {
			continue
		}
		e.oldValue = v.peek()
		ws.entries = append(ws.entries, e)
		ws.byAddr[v] = e
		ws.byCell[c] = e
		if len(ws.entries)%rwSetInitialSize == 0 {
			t.rt.stats.writeSetGrows.inc()
		}
		v.publish(composeMask(v.peek(), val, mask))
		return nil
	}
}

func (d wtDiscipline) validate(t *Txn) bool {
	for _, r := range t.reads.entries {
		l := r.cell.loadAcquire()
		if wordIsUnit(l) {
			return false
		}
		if wordIsOwned(l) {
			if wordIsReadLocked(l) {
				continue
			}
			// A cell read while unowned and then written by t is owned by
			// t now; any other owner is a concurrent transaction.
			if d.chainFor(t, r.cell) != nil {
				continue
			}
			return false
		}
		if l != r.version {
			return false
		}
	}
	return true
}

func (d wtDiscipline) commit(t *Txn) bool {
	ws := t.writes.(*wtWriteSet)
	if len(ws.entries) == 0 {
		return true
	}

	if !d.validate(t) {
		t.abortInternal(Validate)
		return false
	}

	ts := t.rt.clock.clockBump()
	if ts >= t.rt.cfg.VersionMax {
		t.abortInternal(Other)
		return false
	}

	// Release in reverse acquisition order, distinct cells only (byCell
	// holds one representative entry per cell); the final release is
	// followed by a full fence so every earlier release is guaranteed
	// globally visible before commit returns to the caller.
	released := make(map[*cell]bool, len(ws.byCell))
	for i := len(ws.entries) - 1; i >= 0; i-- {
		c := ws.entries[i].cellPtr
		if released[c] {
			continue
		}
		c.releaseToVersion(ts)
		released[c] = true
	}
	fence()
	t.releaseVisibleReads(ts)
	return true
}

// unwind restores every cell t still owns and releases it with a bumped
// incarnation. A cell whose chain head no longer belongs to t has already
// been stolen and unwound by its thief, so it is left untouched here:
// touching it again would stomp whatever the thief has published since.
func (wtDiscipline) unwind(t *Txn) {
	ws := t.writes.(*wtWriteSet)
	for c, head := range ws.byCell {
		owner := c.owner.Load()
		if owner == nil || owner.wt != head {
			continue
		}
		unwindChain(head)
		releaseUndoneWrite(t, c)
	}
	t.releaseVisibleReadsOnAbort()
}

func (d wtDiscipline) abort(t *Txn) { d.unwind(t) }

// releaseStolen is the same unwind as abort: unwind already skips any cell
// a thief has taken over, so there is nothing steal-specific left to do.
func (d wtDiscipline) releaseStolen(t *Txn) { d.unwind(t) }
