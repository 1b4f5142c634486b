package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/schema"
)

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()

	db, err := Open(ctx, path, Options{})
	require.NoError(t, err)

	person := schema.NodeType{
		Name:       "Person",
		Properties: []schema.Property{{Name: "id", Kind: schema.KindInt, Required: true}},
		PrimaryKey: "id",
	}
	knows := schema.EdgeType{Name: "KNOWS", From: "Person", To: "Person"}

	mustWrite(t, db, func(tx *Tx) {
		require.NoError(t, tx.SaveNodeType(ctx, person))
		require.NoError(t, tx.SaveEdgeType(ctx, knows))
		// Saving again replaces, never duplicates
		require.NoError(t, tx.SaveNodeType(ctx, person))
	})
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, Options{})
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.BeginRead(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	s, err := tx.LoadSchema(ctx)
	require.NoError(t, err)

	got, ok := s.Node("Person")
	require.True(t, ok)
	assert.Equal(t, person, got)

	edge, ok := s.Edge("KNOWS")
	require.True(t, ok)
	assert.Equal(t, "Person", edge.From)
}

func TestSaveTypeRequiresWriteTx(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginRead(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.Error(t, tx.SaveNodeType(ctx, schema.NodeType{Name: "X"}))
}
