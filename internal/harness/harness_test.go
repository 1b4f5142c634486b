package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/admission"
	"github.com/roach88/graphd/internal/engine"
	"github.com/roach88/graphd/internal/lifecycle"
	"github.com/roach88/graphd/internal/schema"
)

// startCore runs an engine over a fresh store with declared bootstrapped.
func startCore(t *testing.T, declared *schema.Schema) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	m, err := lifecycle.Open(ctx, t.TempDir(), lifecycle.Config{})
	require.NoError(t, err)
	e := engine.New(m.Handle(), schema.NewRegistry(nil), engine.Config{Workers: 2, Queue: admission.Config{MaxDepth: 64}})
	m.OnShutdown(e.Coordinator().Close)
	require.NoError(t, e.Bootstrap(ctx, declared))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- e.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		closeCtx, stop := context.WithTimeout(ctx, time.Second)
		defer stop()
		m.Close(closeCtx)
	})
	return e
}

func loadAndStart(t *testing.T, path string) (*Script, *engine.Engine) {
	t.Helper()
	s, err := LoadScript(path)
	require.NoError(t, err)
	var declared *schema.Schema
	if s.Schema != "" {
		declared, err = schema.CompileFile(s.Schema)
		require.NoError(t, err)
	}
	return s, startCore(t, declared)
}

func TestRunSocialGolden(t *testing.T) {
	s, core := loadAndStart(t, "testdata/scripts/social.yaml")

	result, err := New(core, WithStepTimeout(5*time.Second)).Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	AssertGolden(t, s.Name, result)
}

const socialSchema = `
node: Person: {
	key: "name"
	properties: name: string
}
`

func TestRunReportsFailedExpectations(t *testing.T) {
	declared, err := schema.CompileBytes([]byte(socialSchema), "social.cue")
	require.NoError(t, err)
	core := startCore(t, declared)

	s, err := ParseScript([]byte(`
name: failing
steps:
  - op: create_node
    payload: {type: Person, props: {name: ada}}
    expect: {affected: 2}
  - op: create_node
    payload: {type: Robot, props: {name: r2}}
  - op: get_node
    payload: {node: {type: Person, key: ada}}
    expect: {error: NOT_FOUND}
  - op: create_node
    payload: {type: Person, bogus: true}
    expect: {error: INVALID_REQUEST}
assertions:
  - type: count
    of: Person
    count: 5
  - type: trace_order
    ops: [get_node, create_node, count]
`))
	require.NoError(t, err)

	result, err := New(core).Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "expected affected 2, got 1")
	assert.Contains(t, result.Errors[1], "unexpected failure SCHEMA_VIOLATION")
	assert.Contains(t, result.Errors[2], `expected error "NOT_FOUND", got ""`)
	assert.Contains(t, result.Errors[3], "expected 5 Person, got 1")
	assert.Contains(t, result.Errors[4], "count not found")

	require.Len(t, result.Trace, 4)
	assert.Equal(t, "INVALID_REQUEST", result.Trace[3].Error)
}

func TestRunClosesLeftoverSessions(t *testing.T) {
	declared, err := schema.CompileBytes([]byte(socialSchema), "social.cue")
	require.NoError(t, err)
	core := startCore(t, declared)

	s, err := ParseScript([]byte(`
name: leftover
steps:
  - open: w
    mode: write
  - session: w
    op: begin
  - session: w
    op: create_node
    payload: {type: Person, props: {name: ada}}
`))
	require.NoError(t, err)

	result, err := New(core).Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 0, core.Stats().Sessions)

	// The uncommitted write was rolled back with the session, and the
	// writer slot is free again.
	s, err = ParseScript([]byte(`
name: after
steps:
  - op: create_node
    payload: {type: Person, props: {name: bob}}
assertions:
  - type: count
    of: Person
    count: 1
`))
	require.NoError(t, err)
	result, err = New(core).Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunStopsOnCancel(t *testing.T) {
	core := startCore(t, nil)
	s, err := ParseScript([]byte(`
name: cancelled
steps:
  - op: count
`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(core).Run(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
}
