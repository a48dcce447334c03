package stm

import "sync"

// quiesceState is a tri-state flag: 0 = running, 1 = a rollover is in
// progress and the barrier owner is waiting for stragglers, 2 = blocking
// mode, where any thread reaching Begin must park until the barrier
// clears.
type quiesceState int

const (
	quiesceNone quiesceState = iota
	quiesceDraining
	quiesceBlocking
)

// quiescenceBarrier coordinates process-wide pauses
// (clock rollover) by parking every live transaction. A global mutex and
// condition variable are used rather than busy-waiting here, because a
// rollover is rare and the cost of a handful of mutex acquisitions is
// irrelevant next to the cost of pausing every thread in the process.
type quiescenceBarrier struct {
	rt *Runtime

	barrierMu sync.Mutex // serializes concurrent callers of barrier()

	mu        sync.Mutex
	cond      sync.Cond
	state     quiesceState
	liveCount int // threads currently ACTIVE and therefore not "quiesced"
}

func (q *quiescenceBarrier) init() {
	if q.cond.L == nil {
		q.cond.L = &q.mu
	}
}

// enterActive is called whenever a transaction transitions to ACTIVE. If a
// rollover is draining or blocking, the caller parks instead of proceeding.
func (q *quiescenceBarrier) enterActive() {
	q.init()
	q.mu.Lock()
	for q.state != quiesceNone {
		q.cond.Wait()
	}
	q.liveCount++
	q.mu.Unlock()
}

// exitActive is called whenever a transaction leaves ACTIVE (commit, abort,
// or park for rollover).
func (q *quiescenceBarrier) exitActive() {
	q.init()
	q.mu.Lock()
	q.liveCount--
	// A serial SetIrrevocable waits for liveCount to fall to 1 (itself),
	// barrier for it to reach 0; each re-checks its own condition.
	if q.liveCount <= 1 && q.state == quiesceDraining {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// barrier runs f with every other transaction quiesced. The caller must not
// itself be ACTIVE.
func (rt *Runtime) barrier(f func()) {
	q := &rt.quiesce
	q.init()
	q.barrierMu.Lock()
	defer q.barrierMu.Unlock()
	q.mu.Lock()
	q.state = quiesceBlocking
	for q.liveCount > 0 {
		q.state = quiesceDraining
		q.cond.Wait()
	}
	q.mu.Unlock()

	f()

	q.mu.Lock()
	q.state = quiesceNone
	q.cond.Broadcast()
	q.mu.Unlock()
}

// rolloverIfNeeded is called from Begin when the sampled start timestamp
// has reached VersionMax. It runs the quiescence barrier with the clock and
// lock-array reset function, then lets the caller re-sample and retry.
func (rt *Runtime) rolloverIfNeeded(start uint64) bool {
	if start < rt.cfg.VersionMax {
		return false
	}
	rt.barrier(func() {
		rt.locks.reset()
		rt.clock.clockReset()
		rt.stats.rollovers.inc()
	})
	return true
}
