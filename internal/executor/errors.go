package executor

import (
	"context"
	"errors"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/store"
	"github.com/roach88/graphd/internal/txn"
)

// mapError converts any error reaching the executor boundary into a
// *failure.Failure.
func (e *Executor) mapError(tx *txn.Tx, op graph.Operation, err error) *failure.Failure {
	var f *failure.Failure
	if errors.As(err, &f) {
		return f
	}
	// The transaction was ended underneath the operation (timeout,
	// shutdown); report why rather than the engine's view of it.
	if terr := tx.Check(); terr != nil {
		return failure.From(terr)
	}

	switch {
	case schema.IsViolation(err):
		return failure.New(failure.SchemaViolation, "%v", err)
	case errors.Is(err, store.ErrDuplicateKey):
		return failure.Wrap(failure.SchemaViolation, err, "%s: primary key already in use", op.Kind())
	case store.IsNotFound(err):
		return failure.New(failure.NotFound, "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failure.From(err)
	}

	transient := store.IsTransient(err)
	e.log.Debug("engine error", "op", op.Kind(), "tx", tx.ID(), "transient", transient, "error", err)
	return failure.Engine(err, transient, "%s failed", op.Kind())
}

func violation(typ, prop, msg string) error {
	return &schema.ViolationError{Type: typ, Property: prop, Message: msg}
}

func notFound(ref graph.NodeRef) error {
	return failure.New(failure.NotFound, "%s does not exist", ref)
}
