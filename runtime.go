package stm

import (
	"os"
	"strconv"
	"sync"
)

// Design selects the update discipline.
type Design int

const (
	// DesignWBETL is write-back/encounter-time locking: a tx acquires a
	// cell the first time it writes to an address hashing into it.
	DesignWBETL Design = iota
	// DesignWBCTL is write-back/commit-time locking: acquisition is
	// deferred to Commit.
	DesignWBCTL
	// DesignWT is write-through: writes are applied in place immediately,
	// with an undo log for abort.
	DesignWT
)

// CMPolicy selects the contention manager.
type CMPolicy int

const (
	CMSuicide CMPolicy = iota
	CMDelay
	CMBackoff
	CMModular
)

// ModularPolicy selects MODULAR's sub-policy for deciding whether to kill a
// conflicting owner.
type ModularPolicy int

const (
	ModularAggressive ModularPolicy = iota
	ModularSuicide
	ModularTimestamp
	ModularKarma
)

const (
	defaultLockArrayLogSize = 20
	defaultLockShiftExtra   = 2
	// versionMax leaves headroom for MaxThreads simultaneous
	// fetch-and-increments to occur above it without wrapping Word.
	defaultVersionMax = ^uint64(0) >> 4
	defaultMaxThreads = 1024
	defaultVRThreshold = 3
	defaultMaxBackoff   = 1 << 20
	maxSpecifics        = 16
	maxCallbackSlots    = 16
)

// Config configures a Runtime at construction time. Every field has a
// documented default; the zero Config is valid and uses them all.
type Config struct {
	Design             Design
	CM                 CMPolicy
	Modular            ModularPolicy
	LockArrayLogSize   int // default 20
	LockShiftExtra     int // default 2
	VersionMax         uint64
	MaxThreads         int
	RolloverClock      bool
	VRThreshold        int  // MODULAR visible-read escalation threshold
	NoSignalHandler    bool // disables fault.go's panic-to-SIGNAL translation
	MaxBackoff         uint64
}

func (c Config) withDefaults() Config {
	if c.LockArrayLogSize == 0 {
		c.LockArrayLogSize = defaultLockArrayLogSize
	}
	if c.LockShiftExtra == 0 {
		c.LockShiftExtra = defaultLockShiftExtra
	}
	if c.VersionMax == 0 {
		c.VersionMax = defaultVersionMax
	}
	if c.MaxThreads == 0 {
		c.MaxThreads = defaultMaxThreads
	}
	if c.VRThreshold == 0 {
		c.VRThreshold = envInt("TINYSTM_VR_THRESHOLD", defaultVRThreshold)
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if os.Getenv("TINYSTM_NO_SIGNAL_HANDLER") != "" {
		c.NoSignalHandler = true
	}
	return c
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// Runtime is the single process-wide value collecting every piece of
// global mutable state this engine needs: the lock array, the version
// clock, the quiescence barrier, callback tables, the thread list, the
// irrevocable sentinel and the epoch GC, so that nothing in this package
// is a package-level var.
type Runtime struct {
	cfg Config

	locks *lockArray
	clock versionClock

	quiesce quiescenceBarrier

	cbMu      sync.Mutex
	callbacks callbackTables

	specificsMu sync.Mutex
	nextSpecific int

	threadsMu sync.Mutex
	threads   map[*Txn]struct{}

	irrevocableHeld   bool
	irrevocableSerial bool
	irrevocableHolder *Txn
	irrevocableMu     sync.Mutex

	gc *epochGC

	discipline updateDiscipline
	cm         contentionManager

	stats runtimeStats
}

// NewRuntime constructs a Runtime. There is no separate teardown call:
// letting the Runtime and every Txn referencing it become unreachable is
// enough, since no OS resources are held beyond the quiescence condition
// variable, which needs none either.
func NewRuntime(cfg Config) *Runtime {
	cfg = cfg.withDefaults()
	rt := &Runtime{
		cfg:     cfg,
		locks:   newLockArray(cfg.LockArrayLogSize, cfg.LockShiftExtra),
		threads: make(map[*Txn]struct{}),
		gc:      newEpochGC(),
	}
	rt.quiesce.rt = rt
	switch cfg.Design {
	case DesignWBCTL:
		rt.discipline = wbctlDiscipline{}
	case DesignWT:
		rt.discipline = wtDiscipline{}
	default:
		rt.discipline = wbetlDiscipline{}
	}
	rt.cm = newContentionManager(cfg)
	return rt
}

// GetClock returns the current global version clock value.
func (rt *Runtime) GetClock() uint64 {
	return rt.clock.clockNow()
}

// runtimeStats holds the atomic counters backing GetStats.
type runtimeStats struct {
	nbCommits      counter
	nbAborts       counter
	nbAbortsRaw    counter // RWConflict et al, conflict-only
	nbAbortsVal    counter // ValRead/ValWrite/Validate
	maxRetries     maxCounter
	writeSetGrows  counter
	readSetGrows   counter
	rollovers      counter
}
