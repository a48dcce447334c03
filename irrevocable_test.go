package stm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetIrrevocableMutualExclusion(t *testing.T) {
	rt := NewRuntime(Config{})
	a := InitThread(rt)
	defer ExitThread(rt, a)
	b := InitThread(rt)
	defer ExitThread(rt, b)

	a.Begin(TxAttr{})
	require.True(t, a.SetIrrevocable(false))
	require.True(t, a.IsIrrevocable())

	b.Begin(TxAttr{})
	require.False(t, b.SetIrrevocable(false))
	b.Abort()

	require.True(t, a.Commit())
	require.False(t, a.IsIrrevocable())

	c := InitThread(rt)
	defer ExitThread(rt, c)
	c.Begin(TxAttr{})
	require.True(t, c.SetIrrevocable(false))
	c.Abort()
	require.False(t, c.IsIrrevocable())
}

func TestSetIrrevocableSerialQuiescesOtherThreads(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)

	a := InitThread(rt)
	defer ExitThread(rt, a)
	a.Begin(TxAttr{})
	require.True(t, a.SetIrrevocable(true))

	done := make(chan struct{})
	go func() {
		require.NoError(t, Atomically(rt, TxAttr{}, func(txn *Txn) error {
			return v.Store(txn, 1)
		}))
		close(done)
	}()

	require.Never(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond, "concurrent transaction committed while serial irrevocable transaction was active")

	require.NoError(t, a.StoreMasked(v, 99, maskAll))
	require.True(t, a.Commit())
	<-done

	got, _ := UnitLoad(rt, v)
	require.Equal(t, Word(1), got)
}
