// Package txn coordinates transactions against the single graph engine.
//
// Write transactions are admitted one at a time through a weighted
// semaphore of size one; x/sync's semaphore serves waiters in arrival
// order, so queued writers are admitted strictly FIFO. Read transactions
// are admitted freely and each pins an engine snapshot at Begin.
//
// State machine:
//
//	Active ──Commit──▶ Committing ──▶ Committed
//	   │                    │
//	   └──Abort/timeout─────┴──────▶ Aborted
//
// A transaction held past its maximum duration is force-aborted with
// TransactionTimeout; the writer slot is released at that moment, not when
// the holder next touches the transaction.
package txn
