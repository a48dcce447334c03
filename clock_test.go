package stm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockBumpIsMonotonic(t *testing.T) {
	var c versionClock
	require.Equal(t, uint64(0), c.clockNow())
	require.Equal(t, uint64(1), c.clockBump())
	require.Equal(t, uint64(2), c.clockBump())
	require.Equal(t, uint64(2), c.clockNow())
}

func TestClockReset(t *testing.T) {
	var c versionClock
	c.clockBump()
	c.clockBump()
	c.clockReset()
	require.Equal(t, uint64(0), c.clockNow())
}

// TestRolloverResetsClockAndLocks is E5: a VersionMax low enough to be
// reached after a handful of commits forces at least one clock rollover;
// every transaction either commits cleanly around it or gets one extra
// retry (Other, from the commit that bumped the clock past VersionMax),
// and the final value is whatever the last successful store left behind.
func TestRolloverResetsClockAndLocks(t *testing.T) {
	rt := NewRuntime(Config{VersionMax: 3})
	v := NewVar(0)

	for i := 1; i <= 10; i++ {
		val := Word(i)
		require.NoError(t, Atomically(rt, TxAttr{}, func(txn *Txn) error {
			return v.Store(txn, val)
		}))
	}

	rollovers, ok := rt.GetStats("rollovers")
	require.True(t, ok)
	require.Greater(t, rollovers, uint64(0), "10 commits against VersionMax=3 must roll the clock over at least once")

	got, _ := UnitLoad(rt, v)
	require.Equal(t, Word(10), got)
	require.Less(t, rt.GetClock(), rt.cfg.VersionMax, "the clock must read below VersionMax again after the last rollover")
}
