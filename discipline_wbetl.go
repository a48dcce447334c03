package stm

import "runtime"

// wbetlEntry is a WB/ETL write-set entry: the value to
// publish, the mask selecting which bits of it apply, the version the cell
// carried when this entry acquired it, and next, chaining every entry that
// hashes into the same lock cell.
type wbetlEntry struct {
	addr         *Var
	mask         Word
	value        Word
	priorVersion uint64
	cellPtr      *cell
	owner        *Txn
	next         *wbetlEntry
}

type wbetlWriteSet struct {
	entries []*wbetlEntry
	byAddr  map[*Var]*wbetlEntry
}

func newWBETLWriteSet() *wbetlWriteSet {
	return &wbetlWriteSet{
		entries: make([]*wbetlEntry, 0, rwSetInitialSize),
		byAddr:  make(map[*Var]*wbetlEntry, rwSetInitialSize),
	}
}

func (ws *wbetlWriteSet) reset() {
	ws.entries = ws.entries[:0]
	clear(ws.byAddr)
}

func (ws *wbetlWriteSet) len() int { return len(ws.entries) }

// wbetlDiscipline is write-back/encounter-time locking: a transaction
// acquires a cell the first time it writes to an address hashing into it,
// buffering the new value until commit.
type wbetlDiscipline struct{}

func (wbetlDiscipline) initWriteSet(t *Txn)  { t.writes = newWBETLWriteSet() }
func (wbetlDiscipline) resetWriteSet(t *Txn) { t.writes.(*wbetlWriteSet).reset() }

func (wbetlDiscipline) ownsCell(t *Txn, c *cell) *wbetlEntry {
	owner := c.owner.Load()
	if owner == nil || owner.wbetl == nil {
		return nil
	}
	if owner.wbetl.owner != t {
		return nil
	}
	return owner.wbetl
}

func (d wbetlDiscipline) load(t *Txn, v *Var) (Word, error) {
	ws := t.writes.(*wbetlWriteSet)
	if e, ok := ws.byAddr[v]; ok {
		return e.value, nil
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
				// A concurrent visible reader does not conflict with our
				// own (invisible) load; fall through as if unowned, using
				// the version preserved alongside the read lock.
				owner := c.owner.Load()
				version := owner.readVersion
				if version > t.end {
					if !t.Extend() {
						t.abortInternal(ValRead)
						return 0, &conflict{reason: ValRead}
					}
					continue
				}
				t.reads.append(c, version)
				return v.peek(), nil
			}
			if head := d.ownsCell(t, c); head != nil {
				for e := head; e != nil; e = e.next {
					if e.addr == v {
						return e.value, nil
					}
				}
				return v.peek(), nil
			}
			var conflictOwner *Txn
			if owner := c.owner.Load(); owner != nil && owner.wbetl != nil {
				conflictOwner = owner.wbetl.owner
			}
			if t.rt.cm.decide(t, c, conflictOwner, RWConflict) == cmKilledOwner {
				// The owner is dead and will never publish, so the value it
				// holds the lock over is still whatever v.peek() already
				// reads (WB/ETL defers every write to commit): read straight
				// through using the version the owner observed before it
				// acquired the cell instead of retrying from scratch.
				head := c.owner.Load().wbetl
				version := head.priorVersion
				if version > t.end {
					if !t.Extend() {
						t.abortInternal(ValRead)
						return 0, &conflict{reason: ValRead}
					}
				}
				t.reads.append(c, version)
				return v.peek(), nil
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

		if t.visibleReads {
			if !c.tryAcquireRead(l, t, version) {
				continue
			}
			t.visibleReadCells = append(t.visibleReadCells, c)
		}
		t.reads.append(c, version)
		return val, nil
	}
}

func (d wbetlDiscipline) store(t *Txn, v *Var, val, mask Word) error {
	ws := t.writes.(*wbetlWriteSet)
	if e, ok := ws.byAddr[v]; ok {
		e.value = composeMask(e.value, val, mask)
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
				var conflictOwner *Txn
				if owner != nil {
					conflictOwner = owner.tx
				}
				if t.rt.cm.decide(t, c, conflictOwner, WRConflict) == cmKilledOwner {
					e := &wbetlEntry{addr: v, mask: mask, value: composeMask(v.peek(), val, mask), priorVersion: owner.readVersion, cellPtr: c, owner: t}
					c.stealFromRead(&ownerRef{wbetl: e})
					ws.entries = append(ws.entries, e)
					ws.byAddr[v] = e
					if len(ws.entries)%rwSetInitialSize == 0 {
						t.rt.stats.writeSetGrows.inc()
					}
					return nil
				}
				t.abortInternal(WRConflict)
				return &conflict{reason: WRConflict}
			}
			if head := d.ownsCell(t, c); head != nil {
				e := &wbetlEntry{addr: v, mask: mask, value: composeMask(v.peek(), val, mask), priorVersion: head.priorVersion, cellPtr: c, owner: t, next: head}
				ws.entries = append(ws.entries, e)
				ws.byAddr[v] = e
				c.owner.Store(&ownerRef{wbetl: e})
				if len(ws.entries)%rwSetInitialSize == 0 {
					t.rt.stats.writeSetGrows.inc()
				}
				return nil
			}
			var conflictOwner *Txn
			if owner := c.owner.Load(); owner != nil && owner.wbetl != nil {
				conflictOwner = owner.wbetl.owner
			}
			if t.rt.cm.decide(t, c, conflictOwner, WWConflict) == cmKilledOwner {
				owner := c.owner.Load().wbetl
				e := &wbetlEntry{addr: v, mask: mask, value: composeMask(v.peek(), val, mask), priorVersion: owner.priorVersion, cellPtr: c, owner: t, next: owner}
				ws.entries = append(ws.entries, e)
				ws.byAddr[v] = e
				c.owner.Store(&ownerRef{wbetl: e})
				if len(ws.entries)%rwSetInitialSize == 0 {
					t.rt.stats.writeSetGrows.inc()
				}
				return nil
			}
			t.abortInternal(WWConflict)
			return &conflict{reason: WWConflict}
		}

		version := wordVersion(l)
		if version > t.end && t.reads.hasCell(c) {
			t.abortInternal(ValWrite)
			return &conflict{reason: ValWrite}
		}

		newEntry := &wbetlEntry{addr: v, mask: mask, value: composeMask(v.peek(), val, mask), priorVersion: version, cellPtr: c, owner: t}
		if !c.tryAcquireWrite(l, &ownerRef{wbetl: newEntry}) {
			continue
		}
		ws.entries = append(ws.entries, newEntry)
		ws.byAddr[v] = newEntry
		if len(ws.entries)%rwSetInitialSize == 0 {
			t.rt.stats.writeSetGrows.inc()
		}
		return nil
	}
}

func (d wbetlDiscipline) validate(t *Txn) bool {
	for _, r := range t.reads.entries {
		l := r.cell.loadAcquire()
		if wordIsUnit(l) {
			return false
		}
		if !wordIsOwned(l) {
			if wordVersion(l) != r.version {
				return false
			}
			continue
		}
		if wordIsReadLocked(l) {
			continue // shared visible readers never conflict with each other
		}
		if d.ownsCell(t, r.cell) != nil {
			continue
		}
		return false
	}
	return true
}

func (d wbetlDiscipline) commit(t *Txn) bool {
	ws := t.writes.(*wbetlWriteSet)
	if len(ws.entries) == 0 {
		return true
	}

	ts := t.rt.clock.clockBump()
	if ts >= t.rt.cfg.VersionMax {
		t.abortInternal(Other)
		return false
	}
	if t.end != ts-1 {
		if !d.validate(t) {
			t.abortInternal(Validate)
			return false
		}
	}

	for _, e := range ws.entries {
		if e.mask != 0 {
			e.addr.publish(composeMask(e.addr.peek(), e.value, e.mask))
		}
	}
	released := make(map[*cell]bool, len(ws.entries))
	for _, e := range ws.entries {
		if released[e.cellPtr] {
			continue
		}
		if head := d.ownsCell(t, e.cellPtr); head == nil || head != e && !chainContains(head, e) {
			// defensive: should not happen, cell already released by a
			// racing releaseStolen; skip rather than double-release.
			continue
		}
		e.cellPtr.releaseToVersion(ts)
		released[e.cellPtr] = true
	}
	t.releaseVisibleReads(ts)
	return true
}

func chainContains(head, target *wbetlEntry) bool {
	for e := head; e != nil; e = e.next {
		if e == target {
			return true
		}
	}
	return false
}

func (d wbetlDiscipline) abort(t *Txn) {
	ws := t.writes.(*wbetlWriteSet)
	released := make(map[*cell]bool, len(ws.entries))
	for _, e := range ws.entries {
		if released[e.cellPtr] {
			continue
		}
		e.cellPtr.releaseToVersion(e.priorVersion)
		released[e.cellPtr] = true
	}
	t.releaseVisibleReadsOnAbort()
}

// releaseStolen is the MODULAR path: t has been Killed by a peer, which may
// already have stolen some of t's cells. Release whatever t still visibly
// owns via CAS rather than an unconditional store, so a peer's concurrent
// steal is never clobbered.
func (d wbetlDiscipline) releaseStolen(t *Txn) {
	ws := t.writes.(*wbetlWriteSet)
	for _, e := range ws.entries {
		owner := e.cellPtr.owner.Load()
		if owner != nil && owner.wbetl == e {
			e.cellPtr.releaseToVersion(e.priorVersion)
		}
	}
	t.releaseVisibleReadsOnAbort()
}

func writeSetLen(t *Txn) int {
	switch ws := t.writes.(type) {
	case *wbetlWriteSet:
		return ws.len()
	case *wbctlWriteSet:
		return ws.len()
	case *wtWriteSet:
		return ws.len()
	default:
		return 0
	}
}

func (rs *readSet) hasCell(c *cell) bool {
	for i := range rs.entries {
		if rs.entries[i].cell == c {
			return true
		}
	}
	return false
}

// releaseVisibleReads releases every MODULAR visible-read lock t took
// during this attempt without bumping the cell's version.
func (t *Txn) releaseVisibleReads(_ uint64) {
	for _, c := range t.visibleReadCells {
		owner := c.owner.Load()
		if owner != nil && owner.tx == t {
			c.releaseRead(owner.readVersion)
		}
	}
	t.visibleReadCells = t.visibleReadCells[:0]
}

func (t *Txn) releaseVisibleReadsOnAbort() {
	t.releaseVisibleReads(0)
}
