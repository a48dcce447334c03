package stm

import "runtime"

// wbctlEntry is a WB/CTL write-set entry: buffered until commit, when the
// cell is finally acquired.
type wbctlEntry struct {
	addr         *Var
	mask         Word
	value        Word
	priorVersion uint64
	cellPtr      *cell
	owner        *Txn
	noDrop       bool // cellPtr already locked by an earlier entry in this set
}

type wbctlWriteSet struct {
	entries []*wbctlEntry
	byAddr  map[*Var]*wbctlEntry
	byCell  map[*cell]*wbctlEntry // first entry in entries order to touch this cell
}

func newWBCTLWriteSet() *wbctlWriteSet {
	return &wbctlWriteSet{
		entries: make([]*wbctlEntry, 0, rwSetInitialSize),
		byAddr:  make(map[*Var]*wbctlEntry, rwSetInitialSize),
		byCell:  make(map[*cell]*wbctlEntry, rwSetInitialSize),
	}
}

func (ws *wbctlWriteSet) reset() {
	ws.entries = ws.entries[:0]
	clear(ws.byAddr)
	clear(ws.byCell)
}

func (ws *wbctlWriteSet) len() int { return len(ws.entries) }

// wbctlDiscipline is write-back/commit-time locking: Load and Store never
// touch the lock array except to read versions; every cell the write set
// touches is acquired only inside commit, held just long enough to publish
// and release.
type wbctlDiscipline struct{}

func (wbctlDiscipline) initWriteSet(t *Txn)  { t.writes = newWBCTLWriteSet() }
func (wbctlDiscipline) resetWriteSet(t *Txn) { t.writes.(*wbctlWriteSet).reset() }

func (wbctlDiscipline) load(t *Txn, v *Var) (Word, error) {
	ws := t.writes.(*wbctlWriteSet)
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
			// CTL only ever owns cells transiently inside another tx's
			// commit; run the contention manager so a persistent holder
			// (or a suicide/backoff policy) can still abort us rather than
			// spinning forever against a commit that never finishes.
			var conflictOwner *Txn
			if owner := c.owner.Load(); owner != nil && owner.wbctl != nil {
				conflictOwner = owner.wbctl.owner
			}
			if t.rt.cm.decide(t, c, conflictOwner, RWConflict) == cmKilledOwner {
				// A committer can only be killed while its status is still
				// Active, which under CMModular has already moved to
				// Committing by the time acquireAll runs; this branch is
				// therefore defensive rather than reachable in practice, but
				// reads straight through on the same terms as WB/ETL's
				// equivalent steal if it ever is.
				version := c.owner.Load().wbctl.priorVersion
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
		t.reads.append(c, version)
		return val, nil
	}
}

func (wbctlDiscipline) store(t *Txn, v *Var, val, mask Word) error {
	ws := t.writes.(*wbctlWriteSet)
	if e, ok := ws.byAddr[v]; ok {
		e.value = composeMask(e.value, val, mask)
		e.mask |= mask
		return nil
	}

	c := t.rt.locks.cellOf(varAddr(v))
	e := &wbctlEntry{addr: v, mask: mask, value: composeMask(v.peek(), val, mask), cellPtr: c, owner: t}
	if _, exists := ws.byCell[c]; exists {
		e.noDrop = true
	} else {
		ws.byCell[c] = e
	}
	ws.entries = append(ws.entries, e)
	ws.byAddr[v] = e
	if len(ws.entries)%rwSetInitialSize == 0 {
		t.rt.stats.writeSetGrows.inc()
	}
	return nil
}

func (wbctlDiscipline) validate(t *Txn) bool {
	for _, r := range t.reads.entries {
		l := r.cell.loadAcquire()
		if wordIsUnit(l) {
			return false
		}
		if wordIsOwned(l) {
			// A cell acquired by our own acquireAll is still valid if the
			// version it carried when acquired is the one we read; any
			// other owner is a concurrent committer.
			if owner := r.cell.owner.Load(); owner != nil && owner.wbctl != nil && owner.wbctl.owner == t {
				if owner.wbctl.priorVersion != r.version {
					return false
				}
				continue
			}
			return false
		}
		if wordVersion(l) != r.version {
			return false
		}
	}
	return true
}

// acquireAll locks every distinct cell the write set touches. Acquisition is
// strictly non-blocking (try-CAS-or-abort, never wait-and-retry on another
// holder), so two committers racing for overlapping cells can never
// deadlock regardless of acquisition order: the moment either one meets a
// cell it cannot immediately CAS, it releases everything it already
// acquired and the whole commit aborts.
func (d wbctlDiscipline) acquireAll(t *Txn) bool {
	ws := t.writes.(*wbctlWriteSet)
	acquired := make([]*wbctlEntry, 0, len(ws.byCell))
	for _, e := range ws.entries {
		if e.noDrop {
			continue
		}
		for {
			l := e.cellPtr.loadAcquire()
			if wordIsUnit(l) {
				d.releaseAcquired(acquired)
				return false
			}
			if wordIsOwned(l) {
				var conflictOwner *Txn
				if owner := e.cellPtr.owner.Load(); owner != nil && owner.wbctl != nil {
					conflictOwner = owner.wbctl.owner
				}
				if t.rt.cm.decide(t, e.cellPtr, conflictOwner, WWConflict) == cmKilledOwner {
					// Structurally unreachable today (see the matching
					// comment in load above), kept so a future relaxation of
					// when a committer becomes un-killable does not silently
					// fall back to an uninstrumented abort.
					e.priorVersion = e.cellPtr.owner.Load().wbctl.priorVersion
					e.cellPtr.owner.Store(&ownerRef{wbctl: e})
					break
				}
				d.releaseAcquired(acquired)
				return false
			}
			e.priorVersion = wordVersion(l)
			if e.priorVersion > t.end && t.reads.hasCell(e.cellPtr) {
				d.releaseAcquired(acquired)
				return false
			}
			if e.cellPtr.tryAcquireWrite(l, &ownerRef{wbctl: e}) {
				break
			}
		}
		acquired = append(acquired, e)
	}
	// noDrop entries never acquire or release their cell themselves, but
	// they still carry a priorVersion copied from the entry that performed
	// the real acquisition, so every entry in the write set reports a
	// consistent snapshot version regardless of which one happened to be
	// first to touch its cell.
	for _, e := range ws.entries {
		if e.noDrop {
			e.priorVersion = ws.byCell[e.cellPtr].priorVersion
		}
	}
	return true
}

func (wbctlDiscipline) releaseAcquired(acquired []*wbctlEntry) {
	for _, e := range acquired {
		e.cellPtr.releaseToVersion(e.priorVersion)
	}
}

func (d wbctlDiscipline) commit(t *Txn) bool {
	ws := t.writes.(*wbctlWriteSet)
	if len(ws.entries) == 0 {
		return true
	}

	if !d.acquireAll(t) {
		t.abortInternal(WWConflict)
		return false
	}

	if !d.validate(t) {
		d.abort(t)
		t.abortInternal(Validate)
		return false
	}

	ts := t.rt.clock.clockBump()
	if ts >= t.rt.cfg.VersionMax {
		d.abort(t)
		t.abortInternal(Other)
		return false
	}

	for _, e := range ws.entries {
		if e.mask != 0 {
			e.addr.publish(composeMask(e.addr.peek(), e.value, e.mask))
		}
	}
	for _, e := range ws.entries {
		if !e.noDrop {
			e.cellPtr.releaseToVersion(ts)
		}
	}
	t.releaseVisibleReads(ts)
	return true
}

// abort releases whatever acquireAll may have left locked. It is only ever
// called from within commit's own failure paths (validate/rollover), since
// Load/Store never acquire anything in WB/CTL.
func (wbctlDiscipline) abort(t *Txn) {
	ws := t.writes.(*wbctlWriteSet)
	for _, e := range ws.entries {
		if e.noDrop {
			continue
		}
		if owner := e.cellPtr.owner.Load(); owner != nil && owner.wbctl == e {
			e.cellPtr.releaseToVersion(e.priorVersion)
		}
	}
	t.releaseVisibleReadsOnAbort()
}

// releaseStolen: WB/CTL never holds a cell outside of commit, and MODULAR
// never kills a tx that is itself inside Commit (status is Committing, not
// Active, by the time acquireAll runs), so there is nothing to release here
// beyond what abort already covers for a commit in progress.
func (d wbctlDiscipline) releaseStolen(t *Txn) {
	d.abort(t)
}
