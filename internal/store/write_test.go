package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/graph"
)

func TestInsertAndReadNode(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	var id int64
	mustWrite(t, db, func(tx *Tx) {
		id = mustInsertNode(t, tx, "Person", "i:1", graph.Props{"id": graph.Int(1), "name": graph.String("Ada")})
	})

	tx, err := db.BeginRead(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	byID, err := tx.NodeByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, graph.Node{ID: id, Type: "Person", Props: graph.Props{"id": graph.Int(1), "name": graph.String("Ada")}}, byID)

	byKey, err := tx.NodeByKey(ctx, "Person", "i:1")
	require.NoError(t, err)
	assert.Equal(t, id, byKey.ID)

	_, err = tx.NodeByKey(ctx, "Person", "i:2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestInsertNodeDuplicateKey(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginWrite(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	mustInsertNode(t, tx, "Person", "i:1", nil)
	_, err = tx.InsertNode(ctx, "Person", "i:1", nil)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// Same key, different type is fine
	mustInsertNode(t, tx, "City", "i:1", nil)
	// Keyless nodes never collide
	mustInsertNode(t, tx, "Note", "", nil)
	mustInsertNode(t, tx, "Note", "", nil)
}

func TestUpdateNode(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginWrite(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	id := mustInsertNode(t, tx, "Person", "", graph.Props{"a": graph.Int(1)})
	require.NoError(t, tx.UpdateNode(ctx, id, "", graph.Props{"b": graph.Bool(true)}))

	n, err := tx.NodeByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, graph.Props{"b": graph.Bool(true)}, n.Props)

	err = tx.UpdateNode(ctx, id+100, "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteNodeRequiresDetach(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginWrite(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	a := mustInsertNode(t, tx, "Person", "", nil)
	b := mustInsertNode(t, tx, "Person", "", nil)
	_, err = tx.InsertEdge(ctx, "KNOWS", a, b, nil)
	require.NoError(t, err)

	n, err := tx.IncidentEdges(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = tx.DeleteNode(ctx, a, false)
	assert.Error(t, err, "foreign key blocks deleting a connected node")

	removed, err := tx.DeleteNode(ctx, a, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = tx.NodeByID(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tx.DeleteNode(ctx, a, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertEdgeRequiresEndpoints(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginWrite(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	a := mustInsertNode(t, tx, "Person", "", nil)
	_, err = tx.InsertEdge(ctx, "KNOWS", a, a+50, nil)
	assert.Error(t, err)
}

func TestDeleteEdge(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginWrite(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	a := mustInsertNode(t, tx, "Person", "", nil)
	e, err := tx.InsertEdge(ctx, "KNOWS", a, a, graph.Props{"w": graph.Float(0.5)})
	require.NoError(t, err)

	require.NoError(t, tx.DeleteEdge(ctx, e))
	assert.ErrorIs(t, tx.DeleteEdge(ctx, e), ErrNotFound)
}

func TestWriteInReadTransactionFails(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginRead(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.False(t, tx.Writable())
	_, err = tx.InsertNode(ctx, "Person", "", nil)
	assert.ErrorContains(t, err, "read transaction")
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginWrite(ctx)
	require.NoError(t, err)
	id := mustInsertNode(t, tx, "Person", "", nil)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.True(t, tx.Done())

	rtx, err := db.BeginRead(ctx)
	require.NoError(t, err)
	defer rtx.Rollback()
	_, err = rtx.NodeByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
