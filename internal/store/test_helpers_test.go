package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/graphd/internal/graph"
)

// createTestDB opens a fresh database in a temp directory.
func createTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	db, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// mustWrite runs fn in a write transaction and commits it.
func mustWrite(t *testing.T, db *DB, fn func(tx *Tx)) {
	t.Helper()
	tx, err := db.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite() failed: %v", err)
	}
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// mustInsertNode inserts a node, failing the test on error.
func mustInsertNode(t *testing.T, tx *Tx, typ, key string, props graph.Props) int64 {
	t.Helper()
	id, err := tx.InsertNode(context.Background(), typ, key, props)
	if err != nil {
		t.Fatalf("InsertNode() failed: %v", err)
	}
	return id
}
