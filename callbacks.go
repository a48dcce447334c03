package stm

import "fmt"

// LifecyclePoint names the points in a thread's or transaction's life at
// which registered callbacks fire.
type LifecyclePoint int

const (
	OnThreadInit LifecyclePoint = iota
	OnThreadExit
	OnStart
	OnPrecommit
	OnCommit
	OnAbort
)

type callback struct {
	fn  func(arg any)
	arg any
}

// callbackTables is a fixed-capacity (16 per point) slot
// arrays, fired in registration order.
type callbackTables struct {
	slots [6][]callback
}

// Register installs callbacks at any subset of the six lifecycle points.
// Any hook may be nil. arg is passed back to every hook registered in the
// same call.
func (rt *Runtime) Register(onThreadInit, onThreadExit, onStart, onPrecommit, onCommit, onAbort func(arg any), arg any) error {
	rt.cbMu.Lock()
	defer rt.cbMu.Unlock()
	hooks := [6]func(any){onThreadInit, onThreadExit, onStart, onPrecommit, onCommit, onAbort}
	for i, h := range hooks {
		if h == nil {
			continue
		}
		if len(rt.callbacks.slots[i]) >= maxCallbackSlots {
			return fmt.Errorf("stm: callback table for point %d is full (capacity %d)", i, maxCallbackSlots)
		}
		rt.callbacks.slots[i] = append(rt.callbacks.slots[i], callback{fn: h, arg: arg})
	}
	return nil
}

func (rt *Runtime) fire(point LifecyclePoint) {
	rt.cbMu.Lock()
	cbs := rt.callbacks.slots[point]
	rt.cbMu.Unlock()
	for _, cb := range cbs {
		cb.fn(cb.arg)
	}
}

// CreateSpecific allocates a new application-keyed slot index, shared by
// every Txn's fixed-size specifics array.
func (rt *Runtime) CreateSpecific() (int, error) {
	rt.specificsMu.Lock()
	defer rt.specificsMu.Unlock()
	if rt.nextSpecific >= maxSpecifics {
		return 0, fmt.Errorf("stm: specifics capacity (%d) exhausted", maxSpecifics)
	}
	key := rt.nextSpecific
	rt.nextSpecific++
	return key, nil
}

// GetSpecific reads the value t has stored under key, or nil if unset.
func (t *Txn) GetSpecific(key int) any {
	if key < 0 || key >= maxSpecifics {
		return nil
	}
	return t.specifics[key]
}

// SetSpecific stores a value under key for the lifetime of t's descriptor
// (it survives across retries of the same logical attempt, since Run's
// retry loop reuses the same *Txn rather than allocating a fresh one).
func (t *Txn) SetSpecific(key int, value any) {
	if key < 0 || key >= maxSpecifics {
		return
	}
	t.specifics[key] = value
}
