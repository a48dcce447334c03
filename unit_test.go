package stm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitStoreAndLoad(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)

	UnitStore(rt, v, 42)
	val, stamp := UnitLoad(rt, v)
	require.Equal(t, Word(42), val)
	require.Equal(t, uint64(1), stamp)
}

func TestUnitStoreMaskedOnlyTouchesSelectedBits(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0xFF00)

	require.True(t, UnitStoreMasked(rt, v, 0x00AB, 0x00FF, nil))
	val, _ := UnitLoad(rt, v)
	require.Equal(t, Word(0xFFAB), val)
}

func TestUnitStoreRefusesStaleStamp(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(1)

	_, stamp := UnitLoad(rt, v)
	require.True(t, UnitStore(rt, v, 2), "an unconditional store never refuses")

	require.False(t, UnitStoreMasked(rt, v, 3, maskAll, &stamp), "a stale stamp must be refused")
	val, _ := UnitLoad(rt, v)
	require.Equal(t, Word(2), val, "a refused store must not apply")

	_, freshStamp := UnitLoad(rt, v)
	require.True(t, UnitStoreMasked(rt, v, 3, maskAll, &freshStamp), "a current stamp must be accepted")
	val, _ = UnitLoad(rt, v)
	require.Equal(t, Word(3), val)
}

func TestUnitStoreIsVisibleToTransactions(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)
	UnitStore(rt, v, 7)

	var got Word
	require.NoError(t, Atomically(rt, TxAttr{ReadOnly: true}, func(txn *Txn) error {
		val, err := v.Load(txn)
		got = val
		return err
	}))
	require.Equal(t, Word(7), got)
}

func TestUnitStoreDoesNotRaceWithConcurrentTxCommit(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)

	require.NoError(t, Atomically(rt, TxAttr{}, func(txn *Txn) error {
		return v.Store(txn, 100)
	}))

	UnitStore(rt, v, 200)
	val, _ := UnitLoad(rt, v)
	require.Equal(t, Word(200), val)
}
