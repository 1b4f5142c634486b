package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/graphd/internal/graph"
)

// InsertNode inserts a node and returns its ID. key is the encoded primary
// key (graph.EncodeKey) or "" for types without one.
// Returns ErrDuplicateKey if another node of the type has the same key.
func (t *Tx) InsertNode(ctx context.Context, typ, key string, props graph.Props) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}
	propsJSON, err := graph.MarshalProps(props)
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO nodes (type, key, props)
		VALUES (?, ?, ?)
	`, typ, nullString(key), string(propsJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert node: %w", ErrDuplicateKey)
		}
		return 0, fmt.Errorf("insert node: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert node: last insert id: %w", err)
	}
	return id, nil
}

// UpdateNode replaces the stored properties and key of node id.
// Returns ErrNotFound if the node does not exist.
func (t *Tx) UpdateNode(ctx context.Context, id int64, key string, props graph.Props) error {
	if err := t.checkWrite(); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	propsJSON, err := graph.MarshalProps(props)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE nodes SET props = ?, key = ? WHERE id = ?
	`, string(propsJSON), nullString(key), id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update node: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("update node: %w", err)
	}
	return expectOne(res, "update node")
}

// DeleteNode removes node id. With detach, its edges are removed first and
// their count returned; without it, a node that still has edges is left in
// place and the foreign key failure is returned.
func (t *Tx) DeleteNode(ctx context.Context, id int64, detach bool) (edgesRemoved int64, err error) {
	if err := t.checkWrite(); err != nil {
		return 0, fmt.Errorf("delete node: %w", err)
	}

	if detach {
		res, err := t.tx.ExecContext(ctx, `
			DELETE FROM edges WHERE from_id = ? OR to_id = ?
		`, id, id)
		if err != nil {
			return 0, fmt.Errorf("delete node: detach: %w", err)
		}
		edgesRemoved, err = res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete node: rows affected: %w", err)
		}
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete node: %w", err)
	}
	if err := expectOne(res, "delete node"); err != nil {
		return 0, err
	}
	return edgesRemoved, nil
}

// InsertEdge inserts an edge between two existing nodes and returns its ID.
func (t *Tx) InsertEdge(ctx context.Context, typ string, from, to int64, props graph.Props) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, fmt.Errorf("insert edge: %w", err)
	}
	propsJSON, err := graph.MarshalProps(props)
	if err != nil {
		return 0, fmt.Errorf("insert edge: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO edges (type, from_id, to_id, props)
		VALUES (?, ?, ?, ?)
	`, typ, from, to, string(propsJSON))
	if err != nil {
		return 0, fmt.Errorf("insert edge: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert edge: last insert id: %w", err)
	}
	return id, nil
}

// DeleteEdge removes edge id. Returns ErrNotFound if it does not exist.
func (t *Tx) DeleteEdge(ctx context.Context, id int64) error {
	if err := t.checkWrite(); err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return expectOne(res, "delete edge")
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// IsNotFound returns true if err wraps ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
