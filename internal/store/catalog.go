package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/graphd/internal/schema"
)

// SaveNodeType persists a node type definition. Saving a name that already
// exists replaces the stored definition.
func (t *Tx) SaveNodeType(ctx context.Context, nt schema.NodeType) error {
	if err := t.checkWrite(); err != nil {
		return fmt.Errorf("save node type: %w", err)
	}
	def, err := json.Marshal(nt)
	if err != nil {
		return fmt.Errorf("save node type: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO node_types (name, definition) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET definition = excluded.definition
	`, nt.Name, string(def))
	if err != nil {
		return fmt.Errorf("save node type: %w", err)
	}
	return nil
}

// SaveEdgeType persists an edge type definition.
func (t *Tx) SaveEdgeType(ctx context.Context, et schema.EdgeType) error {
	if err := t.checkWrite(); err != nil {
		return fmt.Errorf("save edge type: %w", err)
	}
	def, err := json.Marshal(et)
	if err != nil {
		return fmt.Errorf("save edge type: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO edge_types (name, definition) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET definition = excluded.definition
	`, et.Name, string(def))
	if err != nil {
		return fmt.Errorf("save edge type: %w", err)
	}
	return nil
}

// LoadSchema reads the persisted catalog into a Schema. Node types are
// loaded before edge types so edge endpoints resolve.
func (t *Tx) LoadSchema(ctx context.Context) (*schema.Schema, error) {
	s := schema.New()

	nodeDefs, err := t.definitions(ctx, "node_types")
	if err != nil {
		return nil, err
	}
	for _, def := range nodeDefs {
		var nt schema.NodeType
		if err := json.Unmarshal([]byte(def), &nt); err != nil {
			return nil, fmt.Errorf("load schema: decode node type: %w", err)
		}
		if _, err := s.DefineNode(nt); err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
	}

	edgeDefs, err := t.definitions(ctx, "edge_types")
	if err != nil {
		return nil, err
	}
	for _, def := range edgeDefs {
		var et schema.EdgeType
		if err := json.Unmarshal([]byte(def), &et); err != nil {
			return nil, fmt.Errorf("load schema: decode edge type: %w", err)
		}
		if _, err := s.DefineEdge(et); err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
	}
	return s, nil
}

func (t *Tx) definitions(ctx context.Context, table string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT definition FROM "+table+" ORDER BY name COLLATE BINARY ASC")
	if err != nil {
		return nil, fmt.Errorf("load schema: %s: %w", table, err)
	}
	defer rows.Close()

	var defs []string
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("load schema: %s: %w", table, err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load schema: %s: %w", table, err)
	}
	return defs, nil
}
