package stm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSetDedup(t *testing.T) {
	var stats runtimeStats
	rs := newReadSet(true, &stats)
	c := &cell{}
	rs.append(c, 1)
	rs.append(c, 2)
	require.Equal(t, 1, rs.len(), "deduping read set must collapse repeat reads of the same cell")

	rs2 := newReadSet(false, &stats)
	rs2.append(c, 1)
	rs2.append(c, 2)
	require.Equal(t, 2, rs2.len(), "a non-deduping read set keeps every append")
}

func TestReadSetHasCell(t *testing.T) {
	var stats runtimeStats
	rs := newReadSet(false, &stats)
	c1, c2 := &cell{}, &cell{}
	rs.append(c1, 5)
	require.True(t, rs.hasCell(c1))
	require.False(t, rs.hasCell(c2))
}

// TestReadSetGrowCounterOnlyAtCapacityBoundaries is B2: reading past the
// read set's initial capacity must grow it and record exactly one grow per
// multiple of the initial capacity reached, the read-set counterpart of
// TestWriteSetGrowCounterOnlyAtCapacityBoundaries.
func TestReadSetGrowCounterOnlyAtCapacityBoundaries(t *testing.T) {
	rt := NewRuntime(Config{Design: DesignWBETL})
	vars := make([]*Var, rwSetInitialSize*2+1)
	for i := range vars {
		vars[i] = NewVar(Word(i))
	}

	err := Atomically(rt, TxAttr{}, func(txn *Txn) error {
		for _, v := range vars {
			if _, err := v.Load(txn); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	grows, ok := rt.GetStats("read_set_grows")
	require.True(t, ok)
	require.Equal(t, uint64(2), grows)
}

// TestWriteSetGrowCounterOnlyAtCapacityBoundaries: with an 8193-entry
// transaction and an initial capacity of 4096, the write_set_grows stat
// increments on the 4096th and 8192nd entries, i.e. twice for this size —
// the counter only ever moves on exact multiples of the initial capacity,
// never mid-batch.
func TestWriteSetGrowCounterOnlyAtCapacityBoundaries(t *testing.T) {
	rt := NewRuntime(Config{Design: DesignWBETL})
	vars := make([]*Var, rwSetInitialSize*2+1)
	for i := range vars {
		vars[i] = NewVar(0)
	}

	err := Atomically(rt, TxAttr{}, func(txn *Txn) error {
		for i, v := range vars {
			if err := v.Store(txn, Word(i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	grows, ok := rt.GetStats("write_set_grows")
	require.True(t, ok)
	require.Equal(t, uint64(2), grows)
}

// TestWriteSetGrowsExactlyOnceJustPastCapacity is E4 itself: a write set
// sized at exactly initial-capacity-plus-one must grow exactly once, not
// twice and not zero times.
func TestWriteSetGrowsExactlyOnceJustPastCapacity(t *testing.T) {
	rt := NewRuntime(Config{Design: DesignWBETL})
	vars := make([]*Var, rwSetInitialSize+1)
	for i := range vars {
		vars[i] = NewVar(0)
	}

	err := Atomically(rt, TxAttr{}, func(txn *Txn) error {
		for i, v := range vars {
			if err := v.Store(txn, Word(i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	grows, ok := rt.GetStats("write_set_grows")
	require.True(t, ok)
	require.Equal(t, uint64(1), grows)
}
