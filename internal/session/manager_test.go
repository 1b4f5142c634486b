package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/lifecycle"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/testutil"
	"github.com/roach88/graphd/internal/txn"
)

// recordingAborter aborts through the coordinator and remembers what it
// aborted.
type recordingAborter struct {
	coord *txn.Coordinator

	mu      sync.Mutex
	aborted []*txn.Tx
}

func (r *recordingAborter) Abort(tx *txn.Tx) {
	r.mu.Lock()
	r.aborted = append(r.aborted, tx)
	r.mu.Unlock()
	r.coord.Abort(tx)
}

func (r *recordingAborter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aborted)
}

type fixture struct {
	clock   *testutil.FakeClock
	coord   *txn.Coordinator
	aborter *recordingAborter
	m       *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	lm, err := lifecycle.Open(context.Background(), t.TempDir(), lifecycle.Config{})
	require.NoError(t, err)
	coord := txn.New(lm.Handle(), schema.NewRegistry(nil), txn.Config{})
	lm.OnShutdown(coord.Close)
	t.Cleanup(func() { lm.Close(context.Background()) })

	clock := testutil.NewFakeClock(time.Time{})
	ids := testutil.NewSequentialIDs("sess")
	a := &recordingAborter{coord: coord}
	return &fixture{
		clock:   clock,
		coord:   coord,
		aborter: a,
		m:       New(a, cfg, WithNow(clock.Now), WithIDGenerator(ids.Next)),
	}
}

func (f *fixture) begin(t *testing.T, mode graph.Mode) *txn.Tx {
	t.Helper()
	tx, err := f.coord.Begin(context.Background(), mode, "")
	require.NoError(t, err)
	t.Cleanup(func() { f.coord.Abort(tx) })
	return tx
}

func TestCreateResolve(t *testing.T) {
	f := newFixture(t, Config{})

	s, err := f.m.Create(graph.ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, "sess-0001", s.ID())
	assert.Equal(t, graph.ModeWrite, s.Mode())
	assert.Equal(t, f.clock.Now(), s.Created())

	got, err := f.m.Resolve(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, f.m.Len())

	_, err = f.m.Resolve("nope")
	assert.Equal(t, failure.UnknownSession, failure.KindOf(err))
	assert.True(t, failure.From(err).RequiresNewSession())

	_, err = f.m.Create(graph.Mode(0))
	assert.Equal(t, failure.InvalidRequest, failure.KindOf(err))
}

func TestClose_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	s, err := f.m.Create(graph.ModeWrite)
	require.NoError(t, err)
	tx := f.begin(t, graph.ModeWrite)
	require.NoError(t, s.Attach(tx))

	require.NoError(t, f.m.Close(s.ID()))
	assert.True(t, s.Closed())
	assert.Nil(t, s.Tx())
	assert.Equal(t, txn.Aborted, tx.State())
	assert.Equal(t, 1, f.aborter.count())

	// Second close is a no-op.
	require.NoError(t, f.m.Close(s.ID()))
	assert.Equal(t, 1, f.aborter.count())

	_, err = f.m.Resolve(s.ID())
	assert.Equal(t, failure.UnknownSession, failure.KindOf(err))

	err = f.m.Close("never-issued")
	assert.Equal(t, failure.UnknownSession, failure.KindOf(err))
}

func TestAttachDetach(t *testing.T) {
	f := newFixture(t, Config{})
	s, err := f.m.Create(graph.ModeWrite)
	require.NoError(t, err)

	tx1 := f.begin(t, graph.ModeRead)
	tx2 := f.begin(t, graph.ModeRead)
	require.NoError(t, s.Attach(tx1))
	err = s.Attach(tx2)
	assert.Equal(t, failure.InvalidRequest, failure.KindOf(err))

	s.Detach(tx2) // not attached: ignored
	assert.Same(t, tx1, s.Tx())
	s.Detach(tx1)
	assert.Nil(t, s.Tx())
	require.NoError(t, s.Attach(tx2))
}

func TestReap_IdleSession(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: time.Minute, Retention: time.Hour})
	idle, err := f.m.Create(graph.ModeWrite)
	require.NoError(t, err)
	tx := f.begin(t, graph.ModeWrite)
	require.NoError(t, idle.Attach(tx))
	busy, err := f.m.Create(graph.ModeRead)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.m.Touch(busy.ID()))
	assert.Equal(t, 0, f.m.Reap())

	f.clock.Advance(45 * time.Second)
	assert.Equal(t, 1, f.m.Reap())

	assert.Equal(t, txn.Aborted, tx.State(), "held transaction is aborted")
	_, err = f.m.Resolve(idle.ID())
	assert.Equal(t, failure.SessionExpired, failure.KindOf(err))
	_, err = f.m.Acquire(idle.ID())
	assert.Equal(t, failure.SessionExpired, failure.KindOf(err))
	_, err = f.m.Resolve(busy.ID())
	assert.NoError(t, err)

	// Writer slot is free again.
	w := f.begin(t, graph.ModeWrite)
	f.coord.Abort(w)

	// Closing an expired session is a no-op.
	assert.NoError(t, f.m.Close(idle.ID()))
}

func TestReap_SkipsSessionsInUse(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: time.Minute})
	s, err := f.m.Create(graph.ModeRead)
	require.NoError(t, err)

	held, err := f.m.Acquire(s.ID())
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.m.Reap())

	f.m.Release(held)
	assert.Equal(t, 0, f.m.Reap(), "release counts as activity")
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.m.Reap())
}

func TestReap_TombstoneRetention(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: time.Minute, Retention: 10 * time.Minute})
	s, err := f.m.Create(graph.ModeRead)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.Equal(t, 1, f.m.Reap())
	_, err = f.m.Resolve(s.ID())
	assert.Equal(t, failure.SessionExpired, failure.KindOf(err))

	f.clock.Advance(10 * time.Minute)
	f.m.Reap()
	_, err = f.m.Resolve(s.ID())
	assert.Equal(t, failure.UnknownSession, failure.KindOf(err))
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, Config{})
	s, err := f.m.Create(graph.ModeWrite)
	require.NoError(t, err)
	tx := f.begin(t, graph.ModeRead)
	require.NoError(t, s.Attach(tx))

	f.m.Shutdown()
	f.m.Shutdown()
	assert.Equal(t, 0, f.m.Len())
	assert.Equal(t, txn.Aborted, tx.State())

	_, err = f.m.Create(graph.ModeRead)
	assert.Equal(t, failure.StoreUnavailable, failure.KindOf(err))

	err = s.Attach(f.begin(t, graph.ModeRead))
	assert.Equal(t, failure.SessionExpired, failure.KindOf(err))
}

func TestRun_StopsWithContext(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: time.Minute, ReapInterval: time.Millisecond})
	_, err := f.m.Create(graph.ModeRead)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()

	require.Eventually(t, func() bool { return f.m.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
