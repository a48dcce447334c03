// Package stm implements TinySTM, a word-based software transactional
// memory runtime.
//
// Application code groups loads and stores on shared [Var] locations inside
// atomic blocks, run through [Atomically]. The runtime guarantees opacity:
// no transaction, committed or aborted, ever observes a combination of
// values that did not exist together at some single point in the commit
// history.
//
// A [Runtime] owns all process-wide state (the lock array, the version
// clock, the quiescence barrier, callback tables, the thread list). Callers
// construct one with [NewRuntime] and pass it explicitly to every
// transaction; there is no package-level singleton and no thread-local
// current transaction. Three update disciplines are available
// (write-back/encounter-time, write-back/commit-time, write-through) and
// four contention managers (suicide, delay, backoff, modular); both are
// selected by [Config] when constructing a Runtime.
package stm
