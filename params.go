package stm

import (
	"fmt"
	"sync/atomic"
)

// counter is a simple atomic accumulator backing the running totals
// (aborts by reason, write-set extensions, rollovers).
type counter struct{ v atomic.Uint64 }

func (c *counter) inc()          { c.v.Add(1) }
func (c *counter) get() uint64   { return c.v.Load() }

// maxCounter tracks a running maximum.
type maxCounter struct{ v atomic.Uint64 }

func (m *maxCounter) observe(x uint64) {
	for {
		cur := m.v.Load()
		if x <= cur {
			return
		}
		if m.v.CompareAndSwap(cur, x) {
			return
		}
	}
}
func (m *maxCounter) get() uint64 { return m.v.Load() }

// GetParameter reads a runtime-tunable named
// table. Unknown names return (nil, false).
func (rt *Runtime) GetParameter(name string) (any, bool) {
	switch name {
	case "contention_manager":
		return rt.cfg.CM, true
	case "design":
		return rt.cfg.Design, true
	case "read_set_size":
		return rwSetInitialSize, true
	case "write_set_size":
		return rwSetInitialSize, true
	case "vr_threshold":
		return rt.cfg.VRThreshold, true
	case "max_retries":
		return rt.stats.maxRetries.get(), true
	default:
		return nil, false
	}
}

// SetParameter updates a runtime-tunable. Only a handful of parameters are
// mutable after construction (the rest are fixed at NewRuntime since they
// size the lock array or select a discipline, neither of which can change
// underneath live transactions).
func (rt *Runtime) SetParameter(name string, value any) error {
	switch name {
	case "vr_threshold":
		n, ok := value.(int)
		if !ok {
			return fmt.Errorf("stm: vr_threshold wants an int, got %T", value)
		}
		rt.cfg.VRThreshold = n
		return nil
	default:
		return fmt.Errorf("stm: parameter %q is not settable", name)
	}
}

// GetStats reads a named counter
// (nb_aborts_*, max_retries, write-set extensions, rollover count).
func (rt *Runtime) GetStats(name string) (uint64, bool) {
	switch name {
	case "nb_commits":
		return rt.stats.nbCommits.get(), true
	case "nb_aborts":
		return rt.stats.nbAborts.get(), true
	case "nb_aborts_conflict":
		return rt.stats.nbAbortsRaw.get(), true
	case "nb_aborts_validate":
		return rt.stats.nbAbortsVal.get(), true
	case "max_retries":
		return rt.stats.maxRetries.get(), true
	case "write_set_grows":
		return rt.stats.writeSetGrows.get(), true
	case "read_set_grows":
		return rt.stats.readSetGrows.get(), true
	case "rollovers":
		return rt.stats.rollovers.get(), true
	default:
		return 0, false
	}
}
