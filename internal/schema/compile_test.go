package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSchema = `
node: Person: {
	key: "id"
	properties: {
		id:     int
		name:   string
		score?: float
		born?:  "TIMESTAMP"
		active?: bool
	}
}

node: City: properties: name: string

edge: LIVES_IN: {
	from: "Person"
	to:   "City"
	properties: since?: int
}
`

func TestCompileBytes(t *testing.T) {
	s, err := CompileBytes([]byte(sampleSchema), "graph.cue")
	require.NoError(t, err)

	person, ok := s.Node("Person")
	require.True(t, ok)
	assert.Equal(t, "id", person.PrimaryKey)
	assert.Equal(t, []Property{
		{Name: "active", Kind: KindBool},
		{Name: "born", Kind: KindTimestamp},
		{Name: "id", Kind: KindInt, Required: true},
		{Name: "name", Kind: KindString, Required: true},
		{Name: "score", Kind: KindDouble},
	}, person.Properties)

	edge, ok := s.Edge("LIVES_IN")
	require.True(t, ok)
	assert.Equal(t, "Person", edge.From)
	assert.Equal(t, "City", edge.To)
	assert.Equal(t, []Property{{Name: "since", Kind: KindInt}}, edge.Properties)
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := CompileBytes([]byte("node: {"), "broken.cue")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Pos.IsValid())
}

func TestCompileEdgeMissingFrom(t *testing.T) {
	_, err := CompileBytes([]byte(`
node: A: {}
edge: R: to: "A"
`), "edge.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from is required")
}

func TestCompileUnknownEndpoint(t *testing.T) {
	_, err := CompileBytes([]byte(`
edge: R: {
	from: "Ghost"
	to:   "Ghost"
}
`), "edge.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source node type")
}

func TestCompileUnsupportedKind(t *testing.T) {
	_, err := CompileBytes([]byte(`node: A: properties: tags: [...string]`), "list.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type kind")
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.cue")
	require.NoError(t, os.WriteFile(path, []byte(sampleSchema), 0o644))

	s, err := CompileFile(path)
	require.NoError(t, err)
	assert.Len(t, s.NodeTypes(), 2)
	assert.Len(t, s.EdgeTypes(), 1)

	_, err = CompileFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
