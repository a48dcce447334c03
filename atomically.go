package stm

import "fmt"

// Atomically runs body as a transaction against rt, retrying until it
// commits or its attributes tell it to give up. It allocates a fresh Txn descriptor for the
// duration of the call; long-lived callers that run many transactions in a
// loop should call InitThread/Run/ExitThread themselves instead to reuse
// one descriptor (see Run).
func Atomically(rt *Runtime, attr TxAttr, body func(*Txn) error) error {
	t := InitThread(rt)
	defer ExitThread(rt, t)
	return Run(rt, t, attr, body)
}

// Run drives t through body, retrying on conflict, using attr for every
// attempt. It is Atomically split out so a goroutine that runs many
// transactions back to back can amortize one Txn descriptor across all of
// them.
func Run(rt *Runtime, t *Txn, attr TxAttr, body func(*Txn) error) (err error) {
	current := attr
	for {
		t.Begin(current)

		bodyErr := callBody(t, body)

		if bodyErr != nil {
			if c, ok := bodyErr.(*conflict); ok {
				// checkReadOnlyWrite (ROWrite) mutates t.attr in place so
				// the upgrade to read-write survives into the next
				// attempt; pick that back up here rather than reusing the
				// caller's original, still-read-only attr.
				current = t.attr
				if shouldStopRetry(t, c.reason, current) {
					return newAbortError(c.reason, t)
				}
				continue
			}
			if t.Active() {
				t.Abort()
			}
			return bodyErr
		}

		if t.Commit() {
			return nil
		}
		if shouldStopRetry(t, t.lastAbortReason, current) {
			return newAbortError(t.lastAbortReason, t)
		}
	}
}

func shouldStopRetry(t *Txn, reason AbortReason, attr TxAttr) bool {
	return attr.NoRetry && (reason == Explicit || reason == Signal)
}

func newAbortError(reason AbortReason, t *Txn) *AbortError {
	e := &AbortError{Reason: reason}
	if reason == Signal && t.lastPanic != nil {
		if cause, ok := t.lastPanic.(error); ok {
			e.Cause = cause
		} else {
			e.Cause = fmt.Errorf("%v", t.lastPanic)
		}
	}
	return e
}
