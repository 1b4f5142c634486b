package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScript(t *testing.T) {
	s, err := LoadScript("testdata/scripts/social.yaml")
	require.NoError(t, err)

	assert.Equal(t, "social", s.Name)
	assert.Equal(t, filepath.Join("testdata", "scripts", "social.cue"), s.Schema)
	require.Len(t, s.Steps, 12)
	assert.Equal(t, "writer", s.Steps[0].Open)
	assert.Equal(t, "create_node", s.Steps[2].Op)
	require.NotNil(t, s.Steps[2].Expect.Affected)
	assert.Equal(t, int64(1), *s.Steps[2].Expect.Affected)
	assert.Len(t, s.Assertions, 5)
}

func TestLoadScriptMissingFile(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read script file")
}

func TestLoadScriptAbsoluteSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\nschema: /etc/graph.cue\nsteps:\n  - op: count\n"), 0o644))

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/graph.cue", s.Schema)
}

func TestParseScriptInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\nstep: []\n", "failed to parse YAML"},
		{"no name", "steps:\n  - op: count\n", "name is required"},
		{"no steps", "name: x\n", "steps list is required"},
		{"two actions", "name: x\nsteps:\n  - op: count\n    close: a\n", "exactly one of"},
		{"no action", "name: x\nsteps:\n  - session: a\n", "exactly one of"},
		{"bad mode", "name: x\nsteps:\n  - open: a\n    mode: sideways\n", "invalid mode"},
		{"reopen", "name: x\nsteps:\n  - open: a\n    mode: read\n  - open: a\n    mode: read\n", "already open"},
		{"close unopened", "name: x\nsteps:\n  - close: a\n", "not open"},
		{"op in unopened", "name: x\nsteps:\n  - op: count\n    session: a\n", "not open"},
		{"unknown kind", "name: x\nsteps:\n  - op: count\n    expect: {error: OOPS}\n", "unknown error kind"},
		{"bad assertion", "name: x\nsteps:\n  - op: count\nassertions:\n  - type: vibes\n", "unknown assertion type"},
		{"count without of", "name: x\nsteps:\n  - op: count\nassertions:\n  - type: count\n", "of is required"},
		{"trace_order without ops", "name: x\nsteps:\n  - op: count\nassertions:\n  - type: trace_order\n", "ops list is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
