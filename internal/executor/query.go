package executor

import (
	"context"
	"errors"
	"io"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/store"
	"github.com/roach88/graphd/internal/txn"
)

func (e *Executor) getNode(ctx context.Context, tx *txn.Tx, op graph.GetNode) (*Result, error) {
	node, ok, err := e.lookup(ctx, tx, op.Node)
	if err != nil {
		return nil, err
	}
	var rows []graph.Row
	if ok {
		rows = append(rows, graph.Row{Kind: graph.RowNode, Node: &node})
	}
	return &Result{Rows: staticRows(rows, alive(tx))}, nil
}

// matchNodes streams matching nodes from an engine cursor. The cursor is
// bound to the transaction, not the request, so the rows stay readable
// after the result is delivered.
func (e *Executor) matchNodes(ctx context.Context, tx *txn.Tx, op graph.MatchNodes) (*Result, error) {
	nt, ok := tx.Schema().Node(op.Type)
	if !ok {
		return nil, violation(op.Type, "", "unknown node type")
	}
	where, err := coercePredicate(nt, op.Where)
	if err != nil {
		return nil, err
	}
	sql, args, err := e.compiler.Compile(where)
	if err != nil {
		return nil, failure.New(failure.InvalidRequest, "where: %v", err)
	}

	cur, err := tx.Engine().ScanNodes(tx.Context(), nt.Name, store.Filter{SQL: sql, Args: args}, op.Limit)
	if err != nil {
		return nil, err
	}

	rows := newRows(func() (graph.Row, error) {
		n, err := cur.Next()
		if err != nil {
			return graph.Row{}, err
		}
		n.Props = schema.Restore(nt.Properties, n.Props)
		return graph.Row{Kind: graph.RowNode, Node: &n}, nil
	}, alive(tx), func(err error) error { return e.mapError(tx, op, err) })
	rows.closeWith(cur.Close)
	return &Result{Rows: rows}, nil
}

// coercePredicate checks that every field is a declared property and
// converts comparison values to the property's kind.
func coercePredicate(nt schema.NodeType, p graph.Predicate) (graph.Predicate, error) {
	if err := graph.ValidatePredicate(p); err != nil {
		return nil, failure.New(failure.InvalidRequest, "where: %v", err)
	}

	var walk func(graph.Predicate) (graph.Predicate, error)
	coerce := func(field string, v graph.Value) (graph.Value, error) {
		decl, ok := nt.Property(field)
		if !ok {
			return nil, violation(nt.Name, field, "unknown property")
		}
		cv, err := schema.CoerceValue(decl.Kind, v)
		if err != nil {
			return nil, violation(nt.Name, field, err.Error())
		}
		return cv, nil
	}
	walk = func(p graph.Predicate) (graph.Predicate, error) {
		switch pred := p.(type) {
		case nil:
			return nil, nil
		case graph.Equals:
			v, err := coerce(pred.Field, pred.Value)
			return graph.Equals{Field: pred.Field, Value: v}, err
		case graph.Compare:
			v, err := coerce(pred.Field, pred.Value)
			return graph.Compare{Field: pred.Field, Op: pred.Op, Value: v}, err
		case graph.And:
			out := graph.And{Predicates: make([]graph.Predicate, 0, len(pred.Predicates))}
			for _, sub := range pred.Predicates {
				c, err := walk(sub)
				if err != nil {
					return nil, err
				}
				out.Predicates = append(out.Predicates, c)
			}
			return out, nil
		}
		return nil, failure.New(failure.InvalidRequest, "unsupported predicate %T", p)
	}
	return walk(p)
}

// traverse walks breadth-first from the start node, one engine query per
// level. Nodes are reported once, at the depth they are first reached.
// Cancellation of ctx is checked before each level; a cancelled traversal
// aborts tx. Once the rows are delivered, a passed deadline is ignored.
func (e *Executor) traverse(ctx context.Context, tx *txn.Tx, op graph.Traverse) (*Result, error) {
	start, _, err := e.resolve(ctx, tx, op.Start)
	if err != nil {
		return nil, err
	}
	if op.EdgeType != "" {
		if _, ok := tx.Schema().Edge(op.EdgeType); !ok {
			return nil, violation(op.EdgeType, "", "unknown edge type")
		}
	}
	dir := op.Direction
	if dir == "" {
		dir = graph.Outgoing
	}
	if !dir.Valid() {
		return nil, failure.New(failure.InvalidRequest, "invalid direction %q", dir)
	}
	maxDepth := op.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	w := &walker{
		e:        e,
		ctx:      ctx,
		tx:       tx,
		edgeType: op.EdgeType,
		dir:      dir,
		maxDepth: maxDepth,
		limit:    op.Limit,
		frontier: []int64{start.ID},
		visited:  map[int64]bool{start.ID: true},
	}
	w.rows = newRows(w.next, alive(tx), func(err error) error { return e.mapError(tx, op, err) })
	return &Result{Rows: w.rows}, nil
}

type walker struct {
	e        *Executor
	ctx      context.Context
	tx       *txn.Tx
	rows     *Rows
	edgeType string
	dir      graph.Direction
	maxDepth int
	limit    int

	depth    int
	frontier []int64
	visited  map[int64]bool
	pending  []graph.Row
	emitted  int
}

func (w *walker) next() (graph.Row, error) {
	if w.limit > 0 && w.emitted >= w.limit {
		return graph.Row{}, io.EOF
	}
	for len(w.pending) == 0 {
		if w.depth >= w.maxDepth || len(w.frontier) == 0 {
			return graph.Row{}, io.EOF
		}
		if err := w.expand(); err != nil {
			return graph.Row{}, err
		}
	}
	row := w.pending[0]
	w.pending = w.pending[1:]
	w.emitted++
	return row, nil
}

func (w *walker) expand() error {
	err := w.ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) && w.rows.delivered.Load() {
		err = nil
	}
	if err != nil {
		cause := failure.Wrap(failure.Canceled, err, "traversal cancelled at depth %d", w.depth)
		if errors.Is(err, context.DeadlineExceeded) {
			cause = failure.Wrap(failure.DeadlineExceeded, err, "traversal deadline passed at depth %d", w.depth)
		}
		w.e.aborter.AbortWith(w.tx, cause)
		return cause
	}

	hops, err := w.tx.Engine().Neighbors(w.tx.Context(), w.frontier, w.edgeType, w.dir)
	if err != nil {
		return err
	}
	w.depth++
	next := w.frontier[:0:0]
	for _, h := range hops {
		if w.visited[h.Node.ID] {
			continue
		}
		w.visited[h.Node.ID] = true
		node, edge := h.Node, h.Edge
		restore(w.tx, &node)
		if et, ok := w.tx.Schema().Edge(edge.Type); ok {
			edge.Props = schema.Restore(et.Properties, edge.Props)
		}
		w.pending = append(w.pending, graph.Row{Kind: graph.RowPath, Node: &node, Edge: &edge, Depth: w.depth})
		next = append(next, node.ID)
	}
	w.frontier = next
	return nil
}

func (e *Executor) count(ctx context.Context, tx *txn.Tx, op graph.Count) (*Result, error) {
	if op.Type != "" {
		_, isNode := tx.Schema().Node(op.Type)
		_, isEdge := tx.Schema().Edge(op.Type)
		if !isNode && !isEdge {
			return nil, violation(op.Type, "", "unknown type")
		}
	}
	counts, err := tx.Engine().CountByType(ctx, op.Type)
	if err != nil {
		return nil, err
	}
	rows := make([]graph.Row, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, graph.Row{Kind: graph.RowCount, Entity: c.Entity, Type: c.Type, Count: c.Count})
	}
	return &Result{Rows: staticRows(rows, alive(tx))}, nil
}
