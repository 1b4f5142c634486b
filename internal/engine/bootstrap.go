package engine

import (
	"context"
	"fmt"

	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/schema"
)

// Bootstrap loads the persisted type catalog into the registry and then
// defines every type of declared (which may be nil) that the catalog does
// not already hold. Declared types are written in one write transaction,
// so a conflicting redefinition leaves the catalog untouched.
//
// Bootstrap runs before Run and does not go through the admission queue.
func (e *Engine) Bootstrap(ctx context.Context, declared *schema.Schema) error {
	if err := e.loadCatalog(ctx); err != nil {
		return err
	}
	if declared == nil {
		return nil
	}

	var ops []graph.Operation
	for _, nt := range declared.NodeTypes() {
		ops = append(ops, graph.DefineNodeType{
			Name:       nt.Name,
			Properties: definitions(nt.Properties),
			PrimaryKey: nt.PrimaryKey,
		})
	}
	for _, et := range declared.EdgeTypes() {
		ops = append(ops, graph.DefineEdgeType{
			Name:       et.Name,
			From:       et.From,
			To:         et.To,
			Properties: definitions(et.Properties),
		})
	}
	if len(ops) == 0 {
		return nil
	}

	tx, err := e.coord.Begin(ctx, graph.ModeWrite, "bootstrap")
	if err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	defined := 0
	for _, op := range ops {
		res, err := e.exec.Execute(ctx, tx, op)
		if err != nil {
			e.coord.Abort(tx)
			return fmt.Errorf("bootstrap schema: %w", err)
		}
		defined += int(res.Affected)
	}
	if err := e.coord.Commit(tx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	e.log.Info("schema bootstrapped", "declared", len(ops), "defined", defined)
	return nil
}

func (e *Engine) loadCatalog(ctx context.Context) error {
	tx, err := e.coord.Begin(ctx, graph.ModeRead, "bootstrap")
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	loaded, err := tx.Engine().LoadSchema(tx.Context())
	e.coord.Abort(tx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	st := e.registry.Stage()
	for _, nt := range loaded.NodeTypes() {
		if _, err := st.DefineNode(nt); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}
	for _, et := range loaded.EdgeTypes() {
		if _, err := st.DefineEdge(et); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}
	if err := e.registry.Commit(st); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	e.log.Info("catalog loaded",
		"node_types", len(loaded.NodeTypes()), "edge_types", len(loaded.EdgeTypes()))
	return nil
}

func definitions(props []schema.Property) []graph.PropertyDef {
	defs := make([]graph.PropertyDef, len(props))
	for i, p := range props {
		defs[i] = graph.PropertyDef{Name: p.Name, Kind: string(p.Kind), Required: p.Required}
	}
	return defs
}
