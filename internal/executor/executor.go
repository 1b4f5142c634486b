// Package executor runs graph operations inside coordinated transactions.
//
// Every operation is validated against the transaction's schema before the
// engine is touched. Engine errors never leave this package raw: Execute
// converts them into *failure.Failure values, keeping the engine error as
// the cause.
//
// Query results are lazy. Match results stream from an engine cursor and
// traversals fetch one breadth-first level at a time, so memory is bounded
// by the widest level rather than the whole reachable set.
package executor

import (
	"context"
	"log/slog"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/querysql"
	"github.com/roach88/graphd/internal/txn"
)

// Result is the outcome of one successful operation.
type Result struct {
	// RequestID correlates the result with its request.
	RequestID string `json:"request_id,omitempty"`

	// Kind is the operation kind that produced the result.
	Kind graph.OpKind `json:"kind"`

	// Affected counts nodes, edges or types changed by a mutation.
	Affected int64 `json:"affected"`

	// IDs lists the IDs created by a mutation.
	IDs []int64 `json:"ids,omitempty"`

	// TxID is set for begin, commit and rollback.
	TxID string `json:"tx_id,omitempty"`

	// Rows is set for queries.
	Rows *Rows `json:"-"`
}

// Aborter ends transactions on behalf of the executor. *txn.Coordinator
// implements it.
type Aborter interface {
	AbortWith(tx *txn.Tx, cause *failure.Failure)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// Executor translates operations into engine calls.
type Executor struct {
	aborter  Aborter
	compiler *querysql.SQLCompiler
	log      *slog.Logger
}

// New creates an executor. aborter is used to abort the owning transaction
// of a traversal cancelled mid-flight.
func New(aborter Aborter, opts ...Option) *Executor {
	e := &Executor{
		aborter:  aborter,
		compiler: querysql.NewSQLCompiler(),
		log:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op inside tx. ctx is the request context: cancelling it
// stops the operation, and a traversal that notices cancellation aborts tx.
// After the caller marks the rows Delivered, only cancellation stops them.
//
// Control operations (begin, commit, rollback) are not handled here.
func (e *Executor) Execute(ctx context.Context, tx *txn.Tx, op graph.Operation) (*Result, error) {
	if err := tx.Check(); err != nil {
		return nil, err
	}
	if op.Class() == graph.ClassWrite && !tx.Writable() {
		return nil, failure.New(failure.InvalidRequest, "%s is not allowed in a read transaction", op.Kind())
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.From(err)
	}

	res, err := e.dispatch(ctx, tx, op)
	if err != nil {
		return nil, e.mapError(tx, op, err)
	}
	res.Kind = op.Kind()
	return res, nil
}

func (e *Executor) dispatch(ctx context.Context, tx *txn.Tx, op graph.Operation) (*Result, error) {
	switch o := op.(type) {
	case graph.CreateNode:
		return e.createNode(ctx, tx, o)
	case graph.UpdateNode:
		return e.updateNode(ctx, tx, o)
	case graph.DeleteNode:
		return e.deleteNode(ctx, tx, o)
	case graph.CreateEdge:
		return e.createEdge(ctx, tx, o)
	case graph.DeleteEdge:
		return e.deleteEdge(ctx, tx, o)
	case graph.DefineNodeType:
		return e.defineNodeType(ctx, tx, o)
	case graph.DefineEdgeType:
		return e.defineEdgeType(ctx, tx, o)
	case graph.GetNode:
		return e.getNode(ctx, tx, o)
	case graph.MatchNodes:
		return e.matchNodes(ctx, tx, o)
	case graph.Traverse:
		return e.traverse(ctx, tx, o)
	case graph.Count:
		return e.count(ctx, tx, o)
	default:
		return nil, failure.New(failure.InvalidRequest, "%s cannot be executed as a graph operation", op.Kind())
	}
}

// alive reports whether tx can still serve rows.
func alive(tx *txn.Tx) func() bool {
	return func() bool { return tx.State() == txn.Active }
}
