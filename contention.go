package stm

import (
	"math/rand/v2"
	"runtime"
)

// cmDecision is what a contention manager decided to do about a conflict.
type cmDecision int

const (
	cmAbortSelf cmDecision = iota
	cmKilledOwner           // MODULAR only: owner was transitioned to Killed
)

// contentionManager is dispatched by Runtime.cfg.CM. Every strategy
// aborts the caller, except when MODULAR kills the owner and the caller
// takes over the cell (this engine never blocks a transaction mid-flight
// waiting on another without first unwinding its own state); they differ
// in what happens between the abort and the next attempt.
type contentionManager interface {
	// decide is called at the moment t discovers cell is owned by owner
	// (owner is nil when the identity of the conflicting holder cannot be
	// determined, e.g. a WB/CTL commit-time race against a write-set
	// entry whose Txn field has already been cleared by a concurrent
	// commit).
	decide(t *Txn, c *cell, owner *Txn, reason AbortReason) cmDecision
	// afterAbort runs once t has fully unwound, before the next Begin.
	afterAbort(t *Txn, reason AbortReason)
}

// cmScratch is the per-Txn state a contention manager needs across calls.
type cmScratch struct {
	contended *cell
	backoff   uint64
	rng       rand.PCG
}

func (s *cmScratch) reset() {
	s.contended = nil
}

// suicideCM always aborts itself and retries immediately: the simplest
// strategy, and the baseline every other policy is measured against.
type suicideCM struct{}

func (suicideCM) decide(*Txn, *cell, *Txn, AbortReason) cmDecision { return cmAbortSelf }
func (suicideCM) afterAbort(*Txn, AbortReason)                     {}

// delayCM aborts itself, then spins until the specific cell it lost to
// becomes unowned before retrying, reducing immediate re-collision.
type delayCM struct{}

func (delayCM) decide(t *Txn, c *cell, _ *Txn, _ AbortReason) cmDecision {
	t.cm.contended = c
	return cmAbortSelf
}

func (delayCM) afterAbort(t *Txn, _ AbortReason) {
	c := t.cm.contended
	if c == nil {
		return
	}
	for i := 0; i < 10000 && wordIsOwned(c.loadAcquire()); i++ {
		runtime.Gosched()
	}
}

// backoffCM aborts itself and waits a random, exponentially-growing amount
// of time before retrying, doubling the backoff window on every consecutive
// abort up to maxBackoff.
type backoffCM struct{ maxBackoff uint64 }

func (backoffCM) decide(*Txn, *cell, *Txn, AbortReason) cmDecision { return cmAbortSelf }

func (c backoffCM) afterAbort(t *Txn, _ AbortReason) {
	if t.cm.backoff == 0 {
		t.cm.backoff = 1
	} else {
		t.cm.backoff *= 2
		if t.cm.backoff > c.maxBackoff {
			t.cm.backoff = c.maxBackoff
		}
	}
	n := rand.N(t.cm.backoff + 1)
	for i := uint64(0); i < n; i++ {
		runtime.Gosched()
	}
}

// modularCM implements MODULAR: it inspects the conflicting owner's status
// and a pluggable policy to decide whether to kill the owner outright
// rather than always yielding. It additionally escalates a
// transaction to visible reads after VRThreshold consecutive invisible-read
// aborts.
type modularCM struct {
	policy      ModularPolicy
	vrThreshold int
}

func (m modularCM) decide(t *Txn, c *cell, owner *Txn, reason AbortReason) cmDecision {
	t.cm.contended = c

	if reason == RRConflict || reason == ValRead {
		t.consecutiveVRAbort++
	}

	if owner == nil || m.policy == ModularSuicide {
		return cmAbortSelf
	}

	shouldKill := false
	switch m.policy {
	case ModularAggressive:
		shouldKill = true
	case ModularTimestamp:
		shouldKill = t.start < owner.start
	case ModularKarma:
		shouldKill = t.reads.len()+writeSetLen(t) > owner.reads.len()+writeSetLen(owner)
	}
	if !shouldKill {
		return cmAbortSelf
	}

	gen, s := owner.status.load()
	if s != StatusActive {
		return cmAbortSelf
	}
	if owner.status.cas(gen, StatusActive, StatusKilled) {
		owner.killedBy = t
		return cmKilledOwner
	}
	return cmAbortSelf
}

func (m modularCM) afterAbort(t *Txn, reason AbortReason) {
	if reason != RRConflict && reason != ValRead {
		t.consecutiveVRAbort = 0
	}
	if !t.visibleReads && t.consecutiveVRAbort >= t.rt.cfg.VRThreshold {
		t.visibleReads = true
	}
	c := t.cm.contended
	if c == nil {
		return
	}
	for i := 0; i < 1000 && wordIsOwned(c.loadAcquire()); i++ {
		runtime.Gosched()
	}
}

func newContentionManager(cfg Config) contentionManager {
	switch cfg.CM {
	case CMDelay:
		return delayCM{}
	case CMBackoff:
		return backoffCM{maxBackoff: cfg.MaxBackoff}
	case CMModular:
		return modularCM{policy: cfg.Modular, vrThreshold: cfg.VRThreshold}
	default:
		return suicideCM{}
	}
}
