package stm

// callBody runs the user's atomic-block closure and, unless the Runtime was
// configured with NoSignalHandler, recovers any panic raised inside it and
// translates it into a Signal-reason abort.
//
// This is the only place in the package that recovers a panic: every other
// internal control-flow transfer (abortInternal, the *conflict sentinel) is
// an ordinary Go return, no panic or goto involved, since an ordinary retry
// loop at the call site drives every attempt.
func callBody(t *Txn, body func(*Txn) error) (err error) {
	if t.rt.cfg.NoSignalHandler {
		return body(t)
	}

	defer func() {
		if r := recover(); r != nil {
			if t.Active() {
				t.abortInternal(Signal)
			}
			err = &conflict{reason: Signal}
			t.lastPanic = r
		}
	}()
	return body(t)
}
