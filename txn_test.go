package stm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatNestingInnerCommitIsNoOp(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)

	calls := 0
	err := Atomically(rt, TxAttr{}, func(outer *Txn) error {
		calls++
		if err := v.Store(outer, 1); err != nil {
			return err
		}

		// A nested Begin/Commit pair, exactly as an inner atomic block
		// invoked from within an outer one would produce.
		outer.Begin(TxAttr{})
		if err := v.Store(outer, 2); err != nil {
			return err
		}
		committed := outer.Commit()
		require.True(t, committed, "inner commit must always report success")

		val, err := v.Load(outer)
		if err != nil {
			return err
		}
		require.Equal(t, Word(2), val, "inner write must be visible to the outer transaction")
		return nil
	})
	require.NoError(t, err)

	val, _ := UnitLoad(rt, v)
	require.Equal(t, Word(2), val)
}

func TestExplicitAbortNoRetryStopsImmediately(t *testing.T) {
	rt := NewRuntime(Config{})
	attempts := 0
	err := Atomically(rt, TxAttr{NoRetry: true}, func(txn *Txn) error {
		attempts++
		txn.Abort()
		return &conflict{reason: Explicit}
	})

	var abortErr *AbortError
	require.True(t, errors.As(err, &abortErr))
	require.Equal(t, Explicit, abortErr.Reason)
	require.Equal(t, 1, attempts)
}

func TestReadOnlyWriteEscalatesAndRetries(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(41)

	attempts := 0
	err := Atomically(rt, TxAttr{ReadOnly: true}, func(txn *Txn) error {
		attempts++
		if attempts == 1 {
			require.True(t, txn.GetAttributes().ReadOnly)
		}
		return v.Store(txn, 42)
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts, "the read-only attempt must abort once, then retry read-write")

	val, _ := UnitLoad(rt, v)
	require.Equal(t, Word(42), val)
}

func TestCallBodyPanicTranslatesToSignalAbort(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)

	attempts := 0
	err := Atomically(rt, TxAttr{NoRetry: true}, func(txn *Txn) error {
		attempts++
		if err := v.Store(txn, 1); err != nil {
			return err
		}
		panic("boom")
	})

	var abortErr *AbortError
	require.True(t, errors.As(err, &abortErr))
	require.Equal(t, Signal, abortErr.Reason)
	require.EqualError(t, abortErr.Cause, "boom")

	// The transaction never committed, so the store inside the panicking
	// body must not be visible.
	val, _ := UnitLoad(rt, v)
	require.Equal(t, Word(0), val)
}
