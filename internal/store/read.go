package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/graphd/internal/graph"
)

// NodeByID returns node id. Returns ErrNotFound if it does not exist.
func (t *Tx) NodeByID(ctx context.Context, id int64) (graph.Node, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, type, props FROM nodes WHERE id = ?
	`, id)
	return scanNodeRow(row)
}

// NodeByKey returns the node of typ with the encoded primary key.
// Returns ErrNotFound if it does not exist.
func (t *Tx) NodeByKey(ctx context.Context, typ, key string) (graph.Node, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, type, props FROM nodes WHERE type = ? AND key = ?
	`, typ, key)
	return scanNodeRow(row)
}

// IncidentEdges counts edges that start or end at node id.
func (t *Tx) IncidentEdges(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges WHERE from_id = ? OR to_id = ?
	`, id, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incident edges: %w", err)
	}
	return n, nil
}

// Filter is a compiled SQL condition over the nodes table's props column.
type Filter struct {
	SQL  string
	Args []any
}

// ScanNodes returns a cursor over nodes of typ matching filter, ordered by
// ID. limit <= 0 means no limit. The cursor reads rows on demand and must be
// closed; it becomes unusable once the transaction ends.
func (t *Tx) ScanNodes(ctx context.Context, typ string, filter Filter, limit int) (*NodeCursor, error) {
	var b strings.Builder
	b.WriteString("SELECT id, type, props FROM nodes WHERE type = ?")
	args := []any{typ}
	if filter.SQL != "" {
		b.WriteString(" AND (")
		b.WriteString(filter.SQL)
		b.WriteString(")")
		args = append(args, filter.Args...)
	}
	b.WriteString(" ORDER BY id ASC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	return &NodeCursor{rows: rows}, nil
}

// NodeCursor iterates nodes lazily.
type NodeCursor struct {
	rows   *sql.Rows
	closed bool
}

// Next returns the next node, or io.EOF when the cursor is exhausted.
func (c *NodeCursor) Next() (graph.Node, error) {
	if c.closed {
		return graph.Node{}, io.EOF
	}
	if !c.rows.Next() {
		err := c.rows.Err()
		c.Close()
		if err != nil {
			return graph.Node{}, fmt.Errorf("scan nodes: %w", err)
		}
		return graph.Node{}, io.EOF
	}
	n, err := scanNode(c.rows)
	if err != nil {
		c.Close()
		return graph.Node{}, err
	}
	return n, nil
}

// Close releases the cursor. Safe to call more than once.
func (c *NodeCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// Hop is one edge followed during a traversal step.
type Hop struct {
	// Via is the frontier node the edge was followed from.
	Via  int64
	Edge graph.Edge
	Node graph.Node
}

// maxFrontierChunk keeps IN lists well under SQLite's variable limit.
const maxFrontierChunk = 500

// Neighbors returns the edges adjacent to the frontier nodes along dir, with
// the node at the other end. edgeType "" follows every type. Hops are ordered
// by edge ID.
func (t *Tx) Neighbors(ctx context.Context, frontier []int64, edgeType string, dir graph.Direction) ([]Hop, error) {
	var hops []Hop
	for chunk := range slices.Chunk(frontier, maxFrontierChunk) {
		if dir == graph.Outgoing || dir == graph.Both {
			out, err := t.neighbors(ctx, chunk, edgeType, true)
			if err != nil {
				return nil, err
			}
			hops = append(hops, out...)
		}
		if dir == graph.Incoming || dir == graph.Both {
			in, err := t.neighbors(ctx, chunk, edgeType, false)
			if err != nil {
				return nil, err
			}
			hops = append(hops, in...)
		}
	}
	slices.SortStableFunc(hops, func(a, b Hop) int {
		switch {
		case a.Edge.ID < b.Edge.ID:
			return -1
		case a.Edge.ID > b.Edge.ID:
			return 1
		}
		return 0
	})
	return hops, nil
}

func (t *Tx) neighbors(ctx context.Context, ids []int64, edgeType string, outgoing bool) ([]Hop, error) {
	near, far := "from_id", "to_id"
	if !outgoing {
		near, far = far, near
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT e.%s, e.id, e.type, e.from_id, e.to_id, e.props, n.id, n.type, n.props
		FROM edges e
		JOIN nodes n ON n.id = e.%s
		WHERE e.%s IN (%s)`, near, far, near, placeholders)
	if edgeType != "" {
		query += " AND e.type = ?"
		args = append(args, edgeType)
	}
	query += " ORDER BY e.id ASC"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	defer rows.Close()

	var hops []Hop
	for rows.Next() {
		var h Hop
		var edgeProps, nodeProps string
		if err := rows.Scan(&h.Via, &h.Edge.ID, &h.Edge.Type, &h.Edge.From, &h.Edge.To, &edgeProps,
			&h.Node.ID, &h.Node.Type, &nodeProps); err != nil {
			return nil, fmt.Errorf("neighbors: scan: %w", err)
		}
		if h.Edge.Props, err = graph.UnmarshalProps([]byte(edgeProps)); err != nil {
			return nil, fmt.Errorf("neighbors: edge %d: %w", h.Edge.ID, err)
		}
		if h.Node.Props, err = graph.UnmarshalProps([]byte(nodeProps)); err != nil {
			return nil, fmt.Errorf("neighbors: node %d: %w", h.Node.ID, err)
		}
		hops = append(hops, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	return hops, nil
}

// TypeCount is the number of nodes or edges of one type.
type TypeCount struct {
	Entity string `json:"entity"`
	Type   string `json:"type"`
	Count  int64  `json:"count"`
}

// CountByType counts nodes and edges per type, nodes first, each ordered by
// type name. typ restricts the count to one node or edge type.
func (t *Tx) CountByType(ctx context.Context, typ string) ([]TypeCount, error) {
	counts := []TypeCount{}
	for _, q := range []struct {
		entity string
		table  string
	}{{"node", "nodes"}, {"edge", "edges"}} {
		query := "SELECT type, COUNT(*) FROM " + q.table
		var args []any
		if typ != "" {
			query += " WHERE type = ?"
			args = append(args, typ)
		}
		query += " GROUP BY type ORDER BY type COLLATE BINARY ASC"

		rows, err := t.tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", q.table, err)
		}
		for rows.Next() {
			tc := TypeCount{Entity: q.entity}
			if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("count %s: scan: %w", q.table, err)
			}
			counts = append(counts, tc)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (graph.Node, error) {
	var n graph.Node
	var props string
	if err := s.Scan(&n.ID, &n.Type, &props); err != nil {
		return graph.Node{}, fmt.Errorf("scan node: %w", err)
	}
	p, err := graph.UnmarshalProps([]byte(props))
	if err != nil {
		return graph.Node{}, fmt.Errorf("scan node %d: %w", n.ID, err)
	}
	n.Props = p
	return n, nil
}

func scanNodeRow(row *sql.Row) (graph.Node, error) {
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Node{}, ErrNotFound
	}
	return n, err
}
