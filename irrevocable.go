package stm

// Irrevocable lets one transaction commit to an
// irrevocability point past which it may no longer abort — typically
// because it is about to perform an I/O side effect it cannot undo. Only
// one transaction may hold it at a time; with serial set, every other
// transaction in the process is quiesced for as long as it is held, so the
// irrevocable transaction's reads and writes need no further validation at
// all (it is, by construction, the only thing running).

// SetIrrevocable attempts to make t irrevocable. serial selects the strong
// form: every other transaction is paused via the quiescence barrier until
// t releases irrevocability (Commit or Abort). It returns false if another
// transaction already holds irrevocability; the caller must treat that
// exactly like any other conflict and retry.
func (t *Txn) SetIrrevocable(serial bool) bool {
	rt := t.rt
	rt.irrevocableMu.Lock()
	if rt.irrevocableHeld {
		rt.irrevocableMu.Unlock()
		return false
	}
	rt.irrevocableHeld = true
	rt.irrevocableSerial = serial
	rt.irrevocableHolder = t
	rt.irrevocableMu.Unlock()

	if serial {
		rt.quiesce.init()
		rt.quiesce.mu.Lock()
		rt.quiesce.state = quiesceBlocking
		for rt.quiesce.liveCount > 1 { // t itself is one of the live threads
			rt.quiesce.state = quiesceDraining
			rt.quiesce.cond.Wait()
		}
		rt.quiesce.mu.Unlock()
	}

	gen, _ := t.status.load()
	t.status.set(gen, StatusIrrevocable)
	return true
}

// clearIrrevocable releases irrevocability, called from Commit/abortInternal
// whenever t currently holds StatusIrrevocable.
func (t *Txn) clearIrrevocable() {
	rt := t.rt
	rt.irrevocableMu.Lock()
	if !rt.irrevocableHeld {
		rt.irrevocableMu.Unlock()
		return
	}
	serial := rt.irrevocableSerial
	rt.irrevocableHeld = false
	rt.irrevocableSerial = false
	rt.irrevocableHolder = nil
	rt.irrevocableMu.Unlock()

	if serial {
		rt.quiesce.mu.Lock()
		rt.quiesce.state = quiesceNone
		rt.quiesce.cond.Broadcast()
		rt.quiesce.mu.Unlock()
	}
}

// IsIrrevocable reports whether t currently holds irrevocability.
func (t *Txn) IsIrrevocable() bool {
	_, s := t.status.load()
	return s == StatusIrrevocable
}

// checkIrrevocable implements the non-serial (advisory) form of irrevocable
// mode: any transaction other than the holder that notices the sentinel set
// aborts on its next Load/Store/Commit rather than racing the holder's
// unvalidated reads and writes. The serial form never needs this — every
// other transaction is already parked in the quiescence barrier before
// SetIrrevocable(true) returns, so this check simply never fires against a
// serial holder.
func (t *Txn) checkIrrevocable() bool {
	rt := t.rt
	rt.irrevocableMu.Lock()
	held := rt.irrevocableHeld
	holder := rt.irrevocableHolder
	rt.irrevocableMu.Unlock()
	if !held || holder == t {
		return false
	}
	t.abortInternal(Irrevocable)
	return true
}
