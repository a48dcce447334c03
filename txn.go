package stm

import (
	"sync/atomic"
)

// Status is a transaction descriptor's lifecycle state.
type Status uint8

const (
	StatusIdle Status = iota
	StatusActive
	StatusCommitting
	StatusCommitted
	StatusAborting
	StatusAborted
	StatusKilled
	StatusIrrevocable
)

// statusWord packs {generation, status} into one atomic so MODULAR can CAS
// a peer ACTIVE->KILLED only if it is still looking at the generation it
// last observed.
type statusWord struct{ v atomic.Uint64 }

func packStatus(gen uint64, s Status) uint64      { return gen<<8 | uint64(s) }
func unpackStatus(w uint64) (gen uint64, s Status) { return w >> 8, Status(w & 0xff) }

func (w *statusWord) load() (uint64, Status)   { return unpackStatus(w.v.Load()) }
func (w *statusWord) set(gen uint64, s Status) { w.v.Store(packStatus(gen, s)) }
func (w *statusWord) cas(gen uint64, from, to Status) bool {
	return w.v.CompareAndSwap(packStatus(gen, from), packStatus(gen, to))
}

// TxAttr carries the per-transaction attributes passed to Atomically.
type TxAttr struct {
	ID           int
	ReadOnly     bool
	VisibleReads bool // MODULAR only
	NoRetry      bool
	Deadline     int // advisory, consumed only by CM, never enforced
}

// Restart is the opaque token Begin returns. Unlike a C implementation,
// which captures a sigsetjmp context here, this rewrite has nothing to
// capture: an ordinary retry loop at the call site (Atomically) replaces
// longjmp-based restart. Begin always returns the zero Restart; Reason is
// not populated (the reason the previous attempt ended is kept on the Txn
// instead).
type Restart struct {
	Reason AbortReason
}

// Txn is a transaction descriptor, owned exclusively by the goroutine
// that created it via InitThread. It is always passed explicitly; there
// is no thread-local lookup.
type Txn struct {
	rt *Runtime

	status     statusWord
	generation uint64

	start uint64
	end   uint64

	attr TxAttr

	reads  *readSet
	writes any // one of *wbetlWriteSet, *wbctlWriteSet, *wtWriteSet

	nesting int

	retries int

	lastAbortReason AbortReason
	lastPanic       any // set by fault.go's callBody when reason == Signal
	killedBy        *Txn

	// contention-manager scratch
	cm cmScratch

	specifics [maxSpecifics]any

	// visibleReads is set once a MODULAR tx has escalated past
	// Runtime.cfg.VRThreshold consecutive invisible-read aborts.
	visibleReads       bool
	consecutiveVRAbort int
	visibleReadCells   []*cell // released without bumping version on commit

	// extension control (SetExtension); reset to the defaults every Begin.
	extensible   bool
	extensionMax *uint64
}

// InitThread registers a new transaction descriptor with rt. Transactional
// code normally never calls this directly — Atomically does it on every
// call — but it is exposed for callers that want to reuse one Txn across
// many transactions via Run.
func InitThread(rt *Runtime) *Txn {
	t := &Txn{rt: rt, reads: newReadSet(rt.cfg.CM == CMModular, &rt.stats)}
	rt.discipline.initWriteSet(t)
	rt.threadsMu.Lock()
	rt.threads[t] = struct{}{}
	rt.threadsMu.Unlock()
	rt.gc.register(t)
	rt.fire(OnThreadInit)
	return t
}

// ExitThread deregisters t from the thread list and the epoch GC. Its
// buffers are not retired explicitly; they are freed by Go's collector once
// unreachable.
func ExitThread(rt *Runtime, t *Txn) {
	rt.fire(OnThreadExit)
	rt.threadsMu.Lock()
	delete(rt.threads, t)
	rt.threadsMu.Unlock()
	rt.gc.unregister(t)
}

// Active reports whether t is inside an atomic block right now.
func (t *Txn) Active() bool {
	_, s := t.status.load()
	return s == StatusActive || s == StatusCommitting || s == StatusIrrevocable
}

// GetAttributes returns the attributes t was started with.
func (t *Txn) GetAttributes() TxAttr { return t.attr }

// Begin starts a new attempt. Flat nesting: a Begin while
// already nested just increments the nesting counter and returns
// immediately, so inner atomic blocks compose without their own snapshot.
func (t *Txn) Begin(attr TxAttr) Restart {
	if t.nesting > 0 {
		t.nesting++
		return Restart{}
	}

	t.attr = attr
	t.reads.reset()
	t.rt.discipline.resetWriteSet(t)
	t.cm.reset()
	t.visibleReads = attr.VisibleReads
	t.consecutiveVRAbort = 0
	t.visibleReadCells = t.visibleReadCells[:0]
	t.extensible = true
	t.extensionMax = nil

	for {
		start := t.rt.clock.clockNow()
		if t.rt.rolloverIfNeeded(start) {
			continue
		}
		t.start = start
		t.end = start
		break
	}

	t.nesting = 1
	t.rt.quiesce.enterActive()
	gen, _ := t.status.load()
	gen++
	t.status.set(gen, StatusActive)
	t.generation = gen

	t.rt.fire(OnStart)
	return Restart{}
}

// checkReadOnlyWrite implements the read-only-write escalation rule: a read-only tx
// that writes clears the flag and aborts so the retry runs as read-write.
// Callers must return immediately when this reports true.
func (t *Txn) checkReadOnlyWrite() bool {
	if !t.attr.ReadOnly {
		return false
	}
	t.attr.ReadOnly = false
	t.abortInternal(ROWrite)
	return true
}

// Load reads v's current transactionally-consistent value. The caller
// must return immediately on error: t has already been unwound and is
// ready for Atomically's retry loop.
func (v *Var) Load(t *Txn) (Word, error) {
	if t.checkIrrevocable() {
		return 0, &conflict{reason: Irrevocable}
	}
	return t.rt.discipline.load(t, v)
}

// Store writes val to v, replacing its full Word.
func (v *Var) Store(t *Txn, val Word) error {
	return t.StoreMasked(v, val, maskAll)
}

// StoreMasked writes only the bits selected by mask.
func (t *Txn) StoreMasked(v *Var, val, mask Word) error {
	if t.checkReadOnlyWrite() {
		return &conflict{reason: ROWrite}
	}
	if t.checkIrrevocable() {
		return &conflict{reason: Irrevocable}
	}
	return t.rt.discipline.store(t, v, val, mask)
}

// Validate re-checks every read-set entry against the current lock array
// state.
func (t *Txn) Validate() bool {
	return t.rt.discipline.validate(t)
}

// Extend advances end to the current clock, provided the read set still
// validates. Returns false without sampling the clock at all if
// SetExtension(false, ...) has disabled extension for this attempt.
func (t *Txn) Extend() bool {
	if !t.extensible {
		return false
	}
	now := t.rt.clock.clockNow()
	if t.extensionMax != nil && now > *t.extensionMax {
		now = *t.extensionMax
	}
	if now >= t.rt.cfg.VersionMax {
		return false
	}
	if !t.Validate() {
		return false
	}
	t.end = now
	return true
}

// SetExtension controls whether a later out-of-date read/write may call
// Extend to advance t's validity window instead of aborting immediately.
// Disabling it (enable == false) is useful right before an irreversible
// side effect: the caller wants a stale snapshot to abort outright rather
// than silently widen its window. optMaxStamp, when non-nil, caps how far
// Extend may advance end — it never samples a timestamp past *optMaxStamp,
// even if the clock has moved further.
func (t *Txn) SetExtension(enable bool, optMaxStamp *uint64) {
	t.extensible = enable
	t.extensionMax = optMaxStamp
}

// Commit attempts to publish t's write set. It returns
// true on success. On failure, t has already been unwound (abortInternal
// ran internally) and t.lastAbortReason explains why; Atomically decides
// whether to retry.
func (t *Txn) Commit() bool {
	t.nesting--
	if t.nesting > 0 {
		return true // flat nesting: outer commit publishes, inner is a no-op
	}

	t.rt.fire(OnPrecommit)

	if t.checkIrrevocable() {
		return false
	}

	if t.rt.cfg.CM == CMModular {
		gen, _ := t.status.load()
		if !t.status.cas(gen, StatusActive, StatusCommitting) {
			t.abortInternal(Killed)
			return false
		}
	}

	if !t.rt.discipline.commit(t) {
		return false // discipline.commit already called abortInternal
	}

	if t.IsIrrevocable() {
		t.clearIrrevocable()
	}
	gen, _ := t.status.load()
	t.status.set(gen, StatusCommitted)
	t.rt.quiesce.exitActive()
	t.rt.stats.nbCommits.inc()
	t.rt.fire(OnCommit)
	t.rt.stats.maxRetries.observe(uint64(t.retries))
	t.retries = 0
	t.rt.gc.announce(t)
	return true
}

// Abort unwinds the current attempt explicitly. The caller's atomic-block
// closure must return immediately afterward; Atomically inspects
// attr.NoRetry to decide whether to retry or surface an *AbortError.
func (t *Txn) Abort() {
	t.abortInternal(Explicit)
}

// abortInternal is the shared unwind path every conflict/validation
// failure and explicit Abort funnels through. It never transfers control
// itself (no panic/longjmp); Atomically's retry loop is what decides what
// happens next.
func (t *Txn) abortInternal(reason AbortReason) {
	if t.IsIrrevocable() {
		t.clearIrrevocable()
	}
	_, s := t.status.load()
	if s == StatusKilled {
		t.rt.discipline.releaseStolen(t)
	} else {
		t.rt.discipline.abort(t)
	}

	t.rt.fire(OnAbort)

	t.retries++
	t.rt.stats.maxRetries.observe(uint64(t.retries))
	gen, _ := t.status.load()
	t.status.set(gen+1, StatusAborted)
	t.lastAbortReason = reason
	t.rt.quiesce.exitActive()
	t.rt.stats.nbAborts.inc()
	switch reason {
	case ValRead, ValWrite, Validate:
		t.rt.stats.nbAbortsVal.inc()
	case RRConflict, RWConflict, WRConflict, WWConflict:
		t.rt.stats.nbAbortsRaw.inc()
	}

	if reason != Explicit || !t.attr.NoRetry {
		t.rt.cm.afterAbort(t, reason)
	}
	t.nesting = 0
}
