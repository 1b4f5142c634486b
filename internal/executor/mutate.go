package executor

import (
	"context"
	"fmt"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/store"
	"github.com/roach88/graphd/internal/txn"
)

func (e *Executor) createNode(ctx context.Context, tx *txn.Tx, op graph.CreateNode) (*Result, error) {
	nt, ok := tx.Schema().Node(op.Type)
	if !ok {
		return nil, violation(op.Type, "", "unknown node type")
	}
	props, err := schema.CoerceNode(nt, op.Props, false)
	if err != nil {
		return nil, err
	}
	key, err := primaryKey(nt, props)
	if err != nil {
		return nil, err
	}

	id, err := tx.Engine().InsertNode(ctx, nt.Name, key, props)
	if err != nil {
		return nil, err
	}
	return &Result{Affected: 1, IDs: []int64{id}}, nil
}

// updateNode merges op.Props into the node. A null value removes an
// optional property.
func (e *Executor) updateNode(ctx context.Context, tx *txn.Tx, op graph.UpdateNode) (*Result, error) {
	node, nt, err := e.resolve(ctx, tx, op.Node)
	if err != nil {
		return nil, err
	}
	update, err := schema.CoerceNode(nt, op.Props, true)
	if err != nil {
		return nil, err
	}
	merged := node.Props.Merge(update)
	key, err := primaryKey(nt, merged)
	if err != nil {
		return nil, err
	}

	if err := tx.Engine().UpdateNode(ctx, node.ID, key, merged); err != nil {
		return nil, err
	}
	return &Result{Affected: 1, IDs: []int64{node.ID}}, nil
}

// deleteNode removes a node. Without Detach a node that still has edges is
// refused; with it, its edges are removed too and counted in Affected.
func (e *Executor) deleteNode(ctx context.Context, tx *txn.Tx, op graph.DeleteNode) (*Result, error) {
	node, _, err := e.resolve(ctx, tx, op.Node)
	if err != nil {
		return nil, err
	}
	if !op.Detach {
		n, err := tx.Engine().IncidentEdges(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, failure.New(failure.InvalidRequest,
				"%s still has %d edges; delete with detach to remove them", op.Node, n)
		}
	}

	edges, err := tx.Engine().DeleteNode(ctx, node.ID, op.Detach)
	if err != nil {
		return nil, err
	}
	return &Result{Affected: 1 + edges, IDs: []int64{node.ID}}, nil
}

func (e *Executor) createEdge(ctx context.Context, tx *txn.Tx, op graph.CreateEdge) (*Result, error) {
	et, ok := tx.Schema().Edge(op.Type)
	if !ok {
		return nil, violation(op.Type, "", "unknown edge type")
	}
	props, err := schema.CoerceEdge(et, op.Props)
	if err != nil {
		return nil, err
	}

	from, _, err := e.resolve(ctx, tx, op.From)
	if err != nil {
		return nil, err
	}
	if from.Type != et.From {
		return nil, violation(et.Name, "", fmt.Sprintf("source must be %s, got %s", et.From, from.Type))
	}
	to, _, err := e.resolve(ctx, tx, op.To)
	if err != nil {
		return nil, err
	}
	if to.Type != et.To {
		return nil, violation(et.Name, "", fmt.Sprintf("target must be %s, got %s", et.To, to.Type))
	}

	id, err := tx.Engine().InsertEdge(ctx, et.Name, from.ID, to.ID, props)
	if err != nil {
		return nil, err
	}
	return &Result{Affected: 1, IDs: []int64{id}}, nil
}

func (e *Executor) deleteEdge(ctx context.Context, tx *txn.Tx, op graph.DeleteEdge) (*Result, error) {
	if err := tx.Engine().DeleteEdge(ctx, op.ID); err != nil {
		return nil, err
	}
	return &Result{Affected: 1, IDs: []int64{op.ID}}, nil
}

// defineNodeType stages a node type. The definition is written to the
// engine catalog in the same transaction and published to other
// transactions only when it commits. Redefining an identical type is a
// no-op with Affected 0.
func (e *Executor) defineNodeType(ctx context.Context, tx *txn.Tx, op graph.DefineNodeType) (*Result, error) {
	props, err := schema.FromDefinition(op.Properties)
	if err != nil {
		return nil, err
	}
	nt := schema.NodeType{Name: op.Name, Properties: props, PrimaryKey: op.PrimaryKey}

	changed, err := tx.Stage().DefineNode(nt)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &Result{}, nil
	}
	stored, _ := tx.Schema().Node(nt.Name)
	if err := tx.Engine().SaveNodeType(ctx, stored); err != nil {
		return nil, err
	}
	return &Result{Affected: 1}, nil
}

func (e *Executor) defineEdgeType(ctx context.Context, tx *txn.Tx, op graph.DefineEdgeType) (*Result, error) {
	props, err := schema.FromDefinition(op.Properties)
	if err != nil {
		return nil, err
	}
	et := schema.EdgeType{Name: op.Name, From: op.From, To: op.To, Properties: props}

	changed, err := tx.Stage().DefineEdge(et)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &Result{}, nil
	}
	stored, _ := tx.Schema().Edge(et.Name)
	if err := tx.Engine().SaveEdgeType(ctx, stored); err != nil {
		return nil, err
	}
	return &Result{Affected: 1}, nil
}

// resolve loads the node a reference names, with its properties restored
// to their declared kinds.
func (e *Executor) resolve(ctx context.Context, tx *txn.Tx, ref graph.NodeRef) (graph.Node, schema.NodeType, error) {
	node, ok, err := e.lookup(ctx, tx, ref)
	if err != nil {
		return graph.Node{}, schema.NodeType{}, err
	}
	if !ok {
		return graph.Node{}, schema.NodeType{}, notFound(ref)
	}
	nt, _ := tx.Schema().Node(node.Type)
	return node, nt, nil
}

// lookup is resolve without the NotFound failure.
func (e *Executor) lookup(ctx context.Context, tx *txn.Tx, ref graph.NodeRef) (graph.Node, bool, error) {
	if ref.IsZero() {
		return graph.Node{}, false, failure.New(failure.InvalidRequest, "missing node reference")
	}

	var node graph.Node
	var err error
	if ref.ID != 0 {
		node, err = tx.Engine().NodeByID(ctx, ref.ID)
	} else {
		nt, ok := tx.Schema().Node(ref.Type)
		if !ok {
			return graph.Node{}, false, violation(ref.Type, "", "unknown node type")
		}
		if nt.PrimaryKey == "" {
			return graph.Node{}, false, violation(nt.Name, "", "type has no primary key to look nodes up by")
		}
		pk, _ := nt.Property(nt.PrimaryKey)
		kv, cerr := schema.CoerceValue(pk.Kind, ref.Key)
		if cerr != nil {
			return graph.Node{}, false, violation(nt.Name, nt.PrimaryKey, cerr.Error())
		}
		key, kerr := graph.EncodeKey(kv)
		if kerr != nil {
			return graph.Node{}, false, violation(nt.Name, nt.PrimaryKey, kerr.Error())
		}
		node, err = tx.Engine().NodeByKey(ctx, nt.Name, key)
	}
	if store.IsNotFound(err) {
		return graph.Node{}, false, nil
	}
	if err != nil {
		return graph.Node{}, false, err
	}
	restore(tx, &node)
	return node, true, nil
}

// primaryKey encodes the primary key value of props, or "" for keyless
// types.
func primaryKey(nt schema.NodeType, props graph.Props) (string, error) {
	if nt.PrimaryKey == "" {
		return "", nil
	}
	v, ok := props[nt.PrimaryKey]
	if !ok {
		return "", violation(nt.Name, nt.PrimaryKey, "required property missing")
	}
	key, err := graph.EncodeKey(v)
	if err != nil {
		return "", violation(nt.Name, nt.PrimaryKey, err.Error())
	}
	return key, nil
}

func restore(tx *txn.Tx, n *graph.Node) {
	if nt, ok := tx.Schema().Node(n.Type); ok {
		n.Props = schema.Restore(nt.Properties, n.Props)
	}
}
