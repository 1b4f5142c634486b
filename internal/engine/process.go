package engine

import (
	"context"

	"github.com/roach88/graphd/internal/admission"
	"github.com/roach88/graphd/internal/executor"
	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/session"
	"github.com/roach88/graphd/internal/txn"
)

// process runs one dispatched request and resolves its handle.
func (e *Engine) process(h *admission.Handle) {
	defer e.queue.Finish(h)

	req := h.Request()
	res, err := e.handle(h.Context(), req)
	if err != nil {
		f := failure.From(err)
		level := e.log.Debug
		if f.Kind == failure.EngineError {
			level = e.log.Warn
		}
		level("request failed",
			"request", req.ID, "seq", req.Seq, "session", req.SessionID,
			"op", req.Op.Kind(), "kind", f.Kind, "error", f)
	}

	if res != nil && res.Rows != nil {
		res.Rows.Delivered()
	}
	if !h.Resolve(res, err) && res != nil && res.Rows != nil {
		// Resolved elsewhere; nobody will read these rows.
		res.Rows.Close()
	}
}

func (e *Engine) handle(ctx context.Context, req admission.Request) (*executor.Result, error) {
	if req.SessionID == "" {
		return e.implicit(ctx, req.Op, "")
	}

	s, err := e.sessions.Acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer e.sessions.Release(s)

	op := req.Op
	switch o := op.(type) {
	case graph.Begin:
		return e.begin(ctx, s, o)
	case graph.Commit:
		return e.commit(s)
	case graph.Rollback:
		return e.rollback(s)
	}

	if tx := s.Tx(); tx != nil {
		return e.explicit(ctx, s, tx, op)
	}
	if op.Class() == graph.ClassWrite && s.Mode() == graph.ModeRead {
		return nil, failure.New(failure.InvalidRequest, "%s is not allowed in a read-only session", op.Kind())
	}
	return e.implicit(ctx, op, s.ID())
}

// implicit runs op in its own transaction. A write is committed before the
// result is returned. A read whose rows were computed in full ends at once;
// a streaming read keeps its snapshot until the rows are drained or closed.
func (e *Engine) implicit(ctx context.Context, op graph.Operation, owner string) (*executor.Result, error) {
	mode := graph.ModeRead
	if op.Class() == graph.ClassWrite {
		mode = graph.ModeWrite
	}
	tx, err := e.coord.Begin(ctx, mode, owner)
	if err != nil {
		return nil, err
	}

	res, err := e.exec.Execute(ctx, tx, op)
	if err != nil {
		e.coord.Abort(tx)
		return nil, err
	}

	if mode == graph.ModeWrite {
		if err := e.coord.Commit(tx); err != nil {
			return nil, err
		}
		return res, nil
	}

	if res.Rows == nil || res.Rows.Detach() {
		e.coord.Commit(tx)
		return res, nil
	}
	res.Rows.OnClose(func() {
		// Fails only if the transaction was already ended underneath the
		// rows, which leaves nothing to release.
		e.coord.Commit(tx)
	})
	return res, nil
}

// explicit runs op in the session's open transaction. Failures that leave
// the transaction in an unknown state abort it; validation failures leave
// it usable.
func (e *Engine) explicit(ctx context.Context, s *session.Session, tx *txn.Tx, op graph.Operation) (*executor.Result, error) {
	res, err := e.exec.Execute(ctx, tx, op)
	if err == nil {
		res.TxID = tx.ID()
		return res, nil
	}

	switch failure.KindOf(err) {
	case failure.SchemaViolation, failure.NotFound, failure.InvalidRequest:
		if tx.State() == txn.Active {
			return nil, err
		}
	default:
		e.coord.AbortWith(tx, failure.From(err))
	}
	s.Detach(tx)
	return nil, err
}

func (e *Engine) begin(ctx context.Context, s *session.Session, op graph.Begin) (*executor.Result, error) {
	if tx := s.Tx(); tx != nil {
		if tx.State() == txn.Active {
			return nil, failure.New(failure.InvalidRequest, "session %s already has transaction %s", s.ID(), tx.ID())
		}
		// Ended underneath the session, e.g. by the duration limit.
		s.Detach(tx)
	}

	mode := op.Mode
	if mode == 0 {
		mode = s.Mode()
	}
	if mode == graph.ModeWrite && s.Mode() == graph.ModeRead {
		return nil, failure.New(failure.InvalidRequest, "read-only session %s cannot begin a write transaction", s.ID())
	}

	tx, err := e.coord.Begin(ctx, mode, s.ID())
	if err != nil {
		return nil, err
	}
	if err := s.Attach(tx); err != nil {
		e.coord.Abort(tx)
		return nil, err
	}
	e.log.Debug("transaction begun", "session", s.ID(), "tx", tx.ID(), "mode", mode)
	return &executor.Result{Kind: graph.OpBegin, TxID: tx.ID()}, nil
}

func (e *Engine) commit(s *session.Session) (*executor.Result, error) {
	tx := s.Tx()
	if tx == nil {
		return nil, failure.New(failure.InvalidRequest, "session %s has no open transaction", s.ID())
	}
	s.Detach(tx)
	if err := e.coord.Commit(tx); err != nil {
		return nil, err
	}
	return &executor.Result{Kind: graph.OpCommit, TxID: tx.ID()}, nil
}

// rollback aborts the session's transaction. Rolling back a transaction
// that was already force-aborted succeeds.
func (e *Engine) rollback(s *session.Session) (*executor.Result, error) {
	tx := s.Tx()
	if tx == nil {
		return nil, failure.New(failure.InvalidRequest, "session %s has no open transaction", s.ID())
	}
	s.Detach(tx)
	e.coord.Abort(tx)
	return &executor.Result{Kind: graph.OpRollback, TxID: tx.ID()}, nil
}
