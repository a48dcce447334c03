package stm

// Read-set / write-set growable arrays. Both are append-only
// within one transaction attempt and truncated to empty on Begin. Both start
// with capacity rwSetInitialSize and grow through append (Go's own growth
// policy, which is not strict doubling at this size); the grow counters
// count each time the entry count reaches a multiple of rwSetInitialSize.
const (
	rwSetInitialSize = 4096
	rwSetGrowFactor   = 2
)

// readEntry records that the transaction observed cell unowned with the
// given version at some point inside its validity window.
type readEntry struct {
	cell    *cell
	version uint64
}

// readSet is the read-set half: append-only, deduplication optional
// under MODULAR's noDuplicate flag.
type readSet struct {
	entries     []readEntry
	noDuplicate bool
	stats       *runtimeStats
}

func newReadSet(dedup bool, stats *runtimeStats) *readSet {
	return &readSet{entries: make([]readEntry, 0, rwSetInitialSize), noDuplicate: dedup, stats: stats}
}

func (rs *readSet) reset() {
	rs.entries = rs.entries[:0]
}

func (rs *readSet) append(c *cell, version uint64) {
	if rs.noDuplicate {
		for i := range rs.entries {
			if rs.entries[i].cell == c {
				rs.entries[i].version = version
				return
			}
		}
	}
	rs.entries = append(rs.entries, readEntry{cell: c, version: version})
	if len(rs.entries)%rwSetInitialSize == 0 {
		rs.stats.readSetGrows.inc()
	}
}

func (rs *readSet) len() int { return len(rs.entries) }
