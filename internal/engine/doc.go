// Package engine is the graphd service core.
//
// It wires the admission queue, the session manager, the transaction
// coordinator and the executor into the inbound API used by the routing
// layer and the CLI:
//
//	BeginSession(mode)                      -> session ID
//	Submit / SubmitOperation(session, ...)  -> *admission.Handle
//	AwaitResult(ctx, handle)                -> Result | Failure
//	CloseSession(id)
//
// Request flow:
//  1. Submit stamps the request with an ID and a logical sequence number
//     and enqueues it. A full queue fails at once with Overloaded.
//  2. A worker takes the next ready request. Requests of one session are
//     handed out one at a time in submission order.
//  3. The worker resolves the session and picks the transaction: the
//     session's explicit one, or an implicit per-operation one.
//  4. The executor runs the operation; implicit write transactions are
//     committed, failed ones aborted.
//  5. The handle resolves exactly once with a Result or a Failure.
//
// Implicit read transactions stay open until the result rows are drained or
// closed, so lazily produced rows keep reading from the snapshot the
// request started on.
//
// Anonymous requests (no session ID) always run in an implicit transaction
// and may not use begin, commit or rollback.
package engine
