package admission

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/graphd/internal/executor"
	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
)

// Request is an immutable operation request.
type Request struct {
	// ID identifies the request in results and failures.
	ID string

	// SessionID is the requesting session, "" for an anonymous request.
	SessionID string

	// Op is the operation to run.
	Op graph.Operation

	// Deadline, if set, is when the request stops being worth running.
	Deadline time.Time

	// Seq is the logical sequence number assigned at submission.
	Seq int64
}

// Handle is the caller's view of a submitted request. It resolves exactly
// once, to a Result or to a Failure.
type Handle struct {
	req       Request
	q         *Queue
	submitted time.Time

	ctx    context.Context
	cancel context.CancelFunc

	once   sync.Once
	done   chan struct{}
	result *executor.Result
	fail   *failure.Failure

	// Guarded by q.mu.
	lane       *lane
	dispatched bool
}

// ID returns the request ID.
func (h *Handle) ID() string { return h.req.ID }

// Request returns the request.
func (h *Handle) Request() Request { return h.req }

// Context is cancelled when the request is cancelled or its deadline
// passes. Executors pass it to the engine.
func (h *Handle) Context() context.Context { return h.ctx }

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Resolve completes the handle with a result or a failure. Only the first
// call has an effect; it reports whether this call resolved the handle.
func (h *Handle) Resolve(res *executor.Result, err error) bool {
	resolved := false
	h.once.Do(func() {
		resolved = true
		if err != nil {
			h.fail = failure.From(err).WithRequest(h.req.ID)
		} else {
			if res == nil {
				res = &executor.Result{}
			}
			res.RequestID = h.req.ID
			h.result = res
		}
		close(h.done)
	})
	return resolved
}

// Await blocks until the handle resolves or ctx ends. Giving up on ctx
// does not cancel the request.
func (h *Handle) Await(ctx context.Context) (*executor.Result, error) {
	select {
	case <-h.done:
		if h.fail != nil {
			return nil, h.fail
		}
		return h.result, nil
	case <-ctx.Done():
		return nil, failure.From(ctx.Err())
	}
}

// Cancel cancels the request. A queued request is removed without
// reaching the engine and fails with Canceled; a running one has its
// context cancelled and stops at its next cancellation check.
func (h *Handle) Cancel() {
	h.q.cancel(h)
}
