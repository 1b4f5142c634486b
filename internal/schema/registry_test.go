package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageInvisibleUntilCommit(t *testing.T) {
	reg := NewRegistry(nil)
	st := reg.Stage()

	changed, err := st.DefineNode(personType())
	require.NoError(t, err)
	assert.True(t, changed)

	_, ok := st.Schema().Node("Person")
	assert.True(t, ok, "stage sees its own definitions")
	_, ok = reg.Snapshot().Node("Person")
	assert.False(t, ok, "registry does not see staged definitions")

	require.NoError(t, reg.Commit(st))
	_, ok = reg.Snapshot().Node("Person")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), reg.Version())
}

func TestStageDiscardedOnAbort(t *testing.T) {
	reg := NewRegistry(nil)
	before := reg.Snapshot()

	st := reg.Stage()
	_, err := st.DefineNode(personType())
	require.NoError(t, err)
	// Aborting a transaction simply drops the stage.

	assert.Same(t, before, reg.Snapshot())
	_, ok := reg.Snapshot().Node("Person")
	assert.False(t, ok)
}

func TestCommitNoopStage(t *testing.T) {
	s := New()
	_, err := s.DefineNode(personType())
	require.NoError(t, err)
	reg := NewRegistry(s)

	st := reg.Stage()
	changed, err := st.DefineNode(personType())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, st.Dirty())

	require.NoError(t, reg.Commit(st))
	assert.Equal(t, uint64(0), reg.Version())
}

func TestCommitReplaysOnNewerBase(t *testing.T) {
	reg := NewRegistry(nil)
	first := reg.Stage()
	second := reg.Stage()

	_, err := first.DefineNode(personType())
	require.NoError(t, err)
	_, err = second.DefineNode(NodeType{Name: "City"})
	require.NoError(t, err)

	require.NoError(t, reg.Commit(first))
	require.NoError(t, reg.Commit(second))

	snap := reg.Snapshot()
	_, ok := snap.Node("Person")
	assert.True(t, ok)
	_, ok = snap.Node("City")
	assert.True(t, ok)
}
