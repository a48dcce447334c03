package stm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuiesceBarrierPausesLiveTransactions(t *testing.T) {
	rt := NewRuntime(Config{})
	v := NewVar(0)

	enteredBarrier := make(chan struct{})
	releaseBarrier := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.barrier(func() {
			close(enteredBarrier)
			<-releaseBarrier
		})
	}()

	// Give the barrier goroutine a chance to enter f (no transaction is
	// live, so it does not wait for draining) before a transaction tries to
	// enter.
	time.Sleep(10 * time.Millisecond)

	began := make(chan struct{})
	go func() {
		require.NoError(t, Atomically(rt, TxAttr{}, func(txn *Txn) error {
			close(began)
			return v.Store(txn, 1)
		}))
	}()

	select {
	case <-began:
		t.Fatal("a transaction entered while the barrier was active")
	case <-time.After(30 * time.Millisecond):
	}

	close(releaseBarrier)
	<-enteredBarrier // already closed, just draining the select predictably
	wg.Wait()

	require.Eventually(t, func() bool {
		val, _ := UnitLoad(rt, v)
		return val == 1
	}, time.Second, time.Millisecond)
}

func TestQuiesceBarrierRunsExclusively(t *testing.T) {
	rt := NewRuntime(Config{})
	order := make([]int, 0, 2)
	var mu sync.Mutex
	inside, overlapped := 0, false

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		id := i
		go func() {
			defer wg.Done()
			rt.barrier(func() {
				mu.Lock()
				order = append(order, id)
				inside++
				if inside > 1 {
					overlapped = true
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Len(t, order, 2)
	require.False(t, overlapped, "two barrier functions ran at the same time")
}
