package stm

// updateDiscipline is the pluggable strategy for how writes
// reach memory and how conflicts are detected. Runtime
// selects exactly one at construction and every Txn it creates defers to it
// for the whole of Load/Store/Validate/Commit/Abort.
type updateDiscipline interface {
	// initWriteSet installs the concrete write-set value into t.writes; called
	// once, from InitThread.
	initWriteSet(t *Txn)
	// resetWriteSet truncates t.writes back to empty; called from Begin.
	resetWriteSet(t *Txn)

	load(t *Txn, v *Var) (Word, error)
	store(t *Txn, v *Var, val, mask Word) error
	validate(t *Txn) bool
	// commit publishes t's write set and releases every cell it holds. It
	// returns false having already called t.abortInternal.
	commit(t *Txn) bool
	// abort releases every cell t holds, restoring priorVersion (or, for
	// write-through, undoing in-place writes and bumping incarnations).
	abort(t *Txn)
	// releaseStolen is abort's counterpart for a Txn transitioned to Killed
	// by a peer: some cells may already have been stolen by the killer, so
	// release must be conditional (CAS-based) rather than unconditional.
	releaseStolen(t *Txn)
}
