package stm

import "sync"

// epochGC implements epoch-based reclamation: a retired
// buffer (a grown-away write-set array, a dead Txn descriptor) may only be
// freed once every thread that might still be dereferencing it has itself
// advanced — started a new transaction, or exited. This is required by
// MODULAR (a killer thread may hold a raw pointer to the victim's
// descriptor or write-set entries through a stolen lock cell) and by
// WB/ETL's write-set grow (a concurrent reader may be mid-walk of the old
// backing array through a cell it read before the grow completed).
//
// Go's own garbage collector would reclaim these objects eventually once no
// reference remains, but that is not sufficient on its own: the invariant
// being protected is not "when is it safe to free the memory" but "when is
// it safe to stop honoring pointers found inside the lock array that might
// reference a retired object with now-stale semantics" (e.g. a write-set
// entry whose owning Txn has already restarted and begun overwriting its
// fields). epochGC therefore gates logical retirement, not physical memory.
type epochGC struct {
	mu       sync.Mutex
	epoch    uint64
	observed map[*Txn]uint64 // last epoch each registered thread announced
	retired  []retiredItem
}

type retiredItem struct {
	epoch uint64
	free  func()
}

func newEpochGC() *epochGC {
	return &epochGC{observed: make(map[*Txn]uint64)}
}

// register adds a thread's Txn descriptor to the epoch-tracking set. Called
// once from InitThread.
func (g *epochGC) register(t *Txn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observed[t] = g.epoch
}

// unregister drops a thread from tracking (ExitThread). Any items it alone
// was blocking become reclaimable on the next announce/reclaim pass.
func (g *epochGC) unregister(t *Txn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.observed, t)
	g.reclaimLocked()
}

// announce records that t has reached a quiescent point (it is called after
// each successful Commit) and is no longer dereferencing anything retired
// before its previous announcement.
func (g *epochGC) announce(t *Txn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch++
	g.observed[t] = g.epoch
	g.reclaimLocked()
}

// retire schedules free to run once every registered thread has announced
// past the current epoch.
func (g *epochGC) retire(free func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retired = append(g.retired, retiredItem{epoch: g.epoch, free: free})
	g.reclaimLocked()
}

func (g *epochGC) reclaimLocked() {
	if len(g.retired) == 0 {
		return
	}
	min := g.epoch
	for _, e := range g.observed {
		if e < min {
			min = e
		}
	}
	kept := g.retired[:0]
	for _, it := range g.retired {
		if it.epoch < min {
			it.free()
		} else {
			kept = append(kept, it)
		}
	}
	g.retired = kept
}
