package admission

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/executor"
	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/testutil"
)

func req(id, session string) Request {
	return Request{ID: id, SessionID: session, Op: graph.Count{}}
}

func mustSubmit(t *testing.T, q *Queue, r Request) *Handle {
	t.Helper()
	h, err := q.Submit(r)
	require.NoError(t, err)
	return h
}

func nextWithin(t *testing.T, q *Queue, d time.Duration) (*Handle, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Next(ctx)
}

func TestSubmit_OverloadedWhenFull(t *testing.T) {
	q := New(Config{MaxDepth: 3})
	for i := 0; i < 3; i++ {
		mustSubmit(t, q, req(fmt.Sprintf("r%d", i), ""))
	}

	start := time.Now()
	_, err := q.Submit(req("r3", ""))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "submit must not block")
	require.Error(t, err)
	assert.Equal(t, failure.Overloaded, failure.KindOf(err))
	assert.True(t, failure.From(err).Retriable())
	assert.Equal(t, "r3", failure.From(err).RequestID)
	assert.Equal(t, 3, q.Depth())

	// Dispatching frees capacity.
	h, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	mustSubmit(t, q, req("r4", ""))
	q.Finish(h)
}

func TestSubmit_RateLimited(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	q := New(Config{MaxDepth: 10, Rate: 1, Burst: 1}, WithNow(clock.Now))

	mustSubmit(t, q, req("a", ""))
	_, err := q.Submit(req("b", ""))
	assert.Equal(t, failure.Overloaded, failure.KindOf(err))

	clock.Advance(time.Second)
	mustSubmit(t, q, req("c", ""))
}

func TestNext_SessionOrderAndInterleaving(t *testing.T) {
	q := New(Config{MaxDepth: 10})
	mustSubmit(t, q, req("s1-a", "s1"))
	mustSubmit(t, q, req("s1-b", "s1"))
	mustSubmit(t, q, req("s2-a", "s2"))
	mustSubmit(t, q, req("s1-c", "s1"))

	h1, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "s1-a", h1.ID())

	// s1 is busy, so s2 goes next.
	h2, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "s2-a", h2.ID())

	// Nothing else may run until s1-a finishes.
	_, err = nextWithin(t, q, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, q.InFlight())

	h1.Resolve(&executor.Result{}, nil)
	q.Finish(h1)
	h3, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "s1-b", h3.ID())

	q.Finish(h3)
	h4, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "s1-c", h4.ID())

	q.Finish(h2)
	q.Finish(h4)
	assert.Equal(t, 0, q.InFlight())
	assert.Empty(t, q.lanes)
}

func TestNext_ExpiredDeadline(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	q := New(Config{MaxDepth: 10}, WithNow(clock.Now))

	r := req("late", "")
	r.Deadline = clock.Now().Add(time.Second)
	late := mustSubmit(t, q, r)
	ok := mustSubmit(t, q, req("ok", ""))

	clock.Advance(2 * time.Second)

	h, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ok, h, "expired request is skipped")

	_, err = late.Await(context.Background())
	assert.Equal(t, failure.DeadlineExceeded, failure.KindOf(err))
	assert.Equal(t, "late", failure.From(err).RequestID)
}

func TestNext_QueueTimeout(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	q := New(Config{MaxDepth: 10, Timeout: time.Second}, WithNow(clock.Now))

	stale := mustSubmit(t, q, req("stale", ""))
	clock.Advance(5 * time.Second)
	fresh := mustSubmit(t, q, req("fresh", ""))

	h, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, fresh, h)

	_, err = stale.Await(context.Background())
	assert.Equal(t, failure.DeadlineExceeded, failure.KindOf(err))
}

func TestCancel_Queued(t *testing.T) {
	q := New(Config{MaxDepth: 10})
	a := mustSubmit(t, q, req("a", "s"))
	b := mustSubmit(t, q, req("b", "s"))

	b.Cancel()
	_, err := b.Await(context.Background())
	assert.Equal(t, failure.Canceled, failure.KindOf(err))
	assert.Equal(t, 1, q.Depth())
	assert.Error(t, b.Context().Err())

	h, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, a, h)
	q.Finish(h)

	_, err = nextWithin(t, q, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "cancelled request never dispatches")
}

func TestCancel_InFlight(t *testing.T) {
	q := New(Config{MaxDepth: 10})
	mustSubmit(t, q, req("a", ""))

	h, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)

	h.Cancel()
	assert.Error(t, h.Context().Err(), "running request sees cancellation")
	select {
	case <-h.Done():
		t.Fatal("in-flight cancel must not resolve the handle")
	default:
	}

	h.Resolve(nil, failure.New(failure.Canceled, "stopped"))
	q.Finish(h)
}

func TestHandle_ResolvesOnce(t *testing.T) {
	q := New(Config{MaxDepth: 1})
	h := mustSubmit(t, q, req("a", ""))

	assert.True(t, h.Resolve(&executor.Result{Affected: 1}, nil))
	assert.False(t, h.Resolve(nil, failure.New(failure.EngineError, "late")))

	res, err := h.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, "a", res.RequestID)
}

func TestHandle_AwaitContext(t *testing.T) {
	q := New(Config{MaxDepth: 1})
	h := mustSubmit(t, q, req("a", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Await(ctx)
	assert.Equal(t, failure.DeadlineExceeded, failure.KindOf(err))
}

func TestFinish_ResolvesUnresolved(t *testing.T) {
	q := New(Config{MaxDepth: 1})
	mustSubmit(t, q, req("a", ""))
	h, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)

	q.Finish(h)
	_, err = h.Await(context.Background())
	assert.Equal(t, failure.EngineError, failure.KindOf(err))
}

func TestClose(t *testing.T) {
	q := New(Config{MaxDepth: 10})
	mustSubmit(t, q, req("a", "s"))
	running, err := nextWithin(t, q, time.Second)
	require.NoError(t, err)
	// Queued behind the running request of the same session.
	dropped := mustSubmit(t, q, req("b", "s"))

	waiting := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		waiting <- err
	}()

	q.Close()
	q.Close()

	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	_, err = dropped.Await(context.Background())
	assert.Equal(t, failure.StoreUnavailable, failure.KindOf(err))

	_, err = q.Submit(req("c", ""))
	assert.Equal(t, failure.StoreUnavailable, failure.KindOf(err))

	// The running request is unaffected and still finishes normally.
	assert.NoError(t, running.Context().Err())
	running.Resolve(&executor.Result{}, nil)
	q.Finish(running)
	_, err = running.Await(context.Background())
	assert.NoError(t, err)
}

// TestExactlyOnce_RandomizedLoad submits from many goroutines while
// workers resolve and callers cancel at random. Every handle must resolve
// exactly once.
func TestExactlyOnce_RandomizedLoad(t *testing.T) {
	q := New(Config{MaxDepth: 64})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var resolutions atomic.Int64
	var workers sync.WaitGroup
	for w := 0; w < 4; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				h, err := q.Next(ctx)
				if err != nil {
					return
				}
				if rand.Intn(3) == 0 {
					time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
				}
				if h.Resolve(&executor.Result{}, nil) {
					resolutions.Add(1)
				}
				q.Finish(h)
			}
		}()
	}

	var mu sync.Mutex
	var handles []*Handle
	var overloaded atomic.Int64
	var submitters sync.WaitGroup
	for s := 0; s < 8; s++ {
		submitters.Add(1)
		go func(s int) {
			defer submitters.Done()
			for i := 0; i < 100; i++ {
				session := fmt.Sprintf("s%d", rand.Intn(4))
				if rand.Intn(5) == 0 {
					session = ""
				}
				h, err := q.Submit(req(fmt.Sprintf("%d-%d", s, i), session))
				if err != nil {
					assert.Equal(t, failure.Overloaded, failure.KindOf(err))
					overloaded.Add(1)
					continue
				}
				if rand.Intn(10) == 0 {
					h.Cancel()
				}
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
		}(s)
	}
	submitters.Wait()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("request %s never resolved", h.ID())
		}
		// A second resolution is always rejected.
		assert.False(t, h.Resolve(nil, failure.New(failure.EngineError, "dup")))
	}
	assert.Equal(t, int64(800), int64(len(handles))+overloaded.Load())

	cancel()
	workers.Wait()
	assert.Equal(t, 0, q.Depth())
}
