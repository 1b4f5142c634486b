// Package admission buffers operation requests between callers and the
// worker pool.
//
// Submit never blocks: a full queue or an exhausted rate limiter rejects
// the request with Overloaded at once. Requests are kept in per-session
// lanes. A lane dispatches one request at a time, in submission order, so a
// session's requests never overtake each other; lanes of different sessions
// interleave in the order they became ready.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/logging"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("admission queue closed")

// Config configures a Queue.
type Config struct {
	// MaxDepth bounds the number of queued, not yet dispatched requests.
	MaxDepth int

	// Timeout fails requests that waited in the queue longer than this
	// with DeadlineExceeded. Zero disables it.
	Timeout time.Duration

	// Rate and Burst configure an optional token bucket on Submit.
	// Rate <= 0 disables it.
	Rate  float64
	Burst int
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithNow sets the clock used for queue wait and deadline checks.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// lane holds one session's queued requests.
type lane struct {
	key     string
	pending []*Handle
	busy    bool // a request of this lane is dispatched
	ready   bool // the lane is in Queue.ready
}

// Queue is the admission queue.
type Queue struct {
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	limiter *rate.Limiter

	mu       sync.Mutex
	lanes    map[string]*lane
	ready    []*lane
	depth    int
	inFlight int
	closed   bool
	signal   chan struct{} // buffered, size 1
}

// New creates a queue.
func New(cfg Config, opts ...Option) *Queue {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	q := &Queue{
		cfg:    cfg,
		log:    logging.NewNop(),
		now:    time.Now,
		lanes:  make(map[string]*lane),
		signal: make(chan struct{}, 1),
	}
	if cfg.Rate > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(cfg.Burst, 1))
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues req and returns its handle. It fails fast with
// Overloaded when the queue is full or the submit rate is exceeded, and
// with StoreUnavailable once the queue is closed.
func (q *Queue) Submit(req Request) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, failure.New(failure.StoreUnavailable, "store is shutting down").WithRequest(req.ID)
	}
	if q.depth >= q.cfg.MaxDepth {
		return nil, failure.New(failure.Overloaded, "admission queue is full (%d requests)", q.depth).WithRequest(req.ID)
	}
	if q.limiter != nil && !q.limiter.AllowN(q.now(), 1) {
		return nil, failure.New(failure.Overloaded, "submit rate exceeded").WithRequest(req.ID)
	}

	h := &Handle{
		req:       req,
		q:         q,
		submitted: q.now(),
		done:      make(chan struct{}),
	}
	if req.Deadline.IsZero() {
		h.ctx, h.cancel = context.WithCancel(context.Background())
	} else {
		h.ctx, h.cancel = context.WithDeadline(context.Background(), req.Deadline)
	}

	key := req.SessionID
	if key == "" {
		key = "anon/" + req.ID
	}
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{key: key}
		q.lanes[key] = l
	}
	h.lane = l
	l.pending = append(l.pending, h)
	q.depth++
	q.markReadyLocked(l)
	return h, nil
}

func (q *Queue) markReadyLocked(l *lane) {
	if l.busy || l.ready || len(l.pending) == 0 {
		return
	}
	l.ready = true
	q.ready = append(q.ready, l)
	q.notifyLocked()
}

// notifyLocked signals availability (non-blocking - buffer of 1 coalesces
// signals).
func (q *Queue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a request is ready for dispatch and returns it. The
// caller must call Finish when it has resolved the handle. Requests whose
// deadline passed, or that waited longer than the queue timeout, are
// failed with DeadlineExceeded here and never returned.
//
// Returns ErrClosed once the queue is closed, or ctx's error.
func (q *Queue) Next(ctx context.Context) (*Handle, error) {
	for {
		h, err := q.tryNext()
		if h != nil || err != nil {
			return h, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) tryNext() (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ready) > 0 {
		l := q.ready[0]
		q.ready[0] = nil
		q.ready = q.ready[1:]
		l.ready = false
		if len(l.pending) == 0 {
			q.dropIfIdleLocked(l)
			continue
		}

		h := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		q.depth--

		if f := q.expiredLocked(h); f != nil {
			h.Resolve(nil, f)
			h.cancel()
			q.markReadyLocked(l)
			q.dropIfIdleLocked(l)
			continue
		}

		h.dispatched = true
		l.busy = true
		q.inFlight++
		// More work may be ready for another worker.
		if len(q.ready) > 0 {
			q.notifyLocked()
		}
		return h, nil
	}

	if q.closed {
		return nil, ErrClosed
	}
	return nil, nil
}

func (q *Queue) expiredLocked(h *Handle) *failure.Failure {
	now := q.now()
	if !h.req.Deadline.IsZero() && !now.Before(h.req.Deadline) {
		return failure.New(failure.DeadlineExceeded, "deadline passed before the request was dispatched")
	}
	if q.cfg.Timeout > 0 && now.Sub(h.submitted) > q.cfg.Timeout {
		return failure.New(failure.DeadlineExceeded, "request waited in the queue longer than %s", q.cfg.Timeout)
	}
	return nil
}

// Finish releases the lane of a dispatched request so the session's next
// request can run. It resolves the handle with a failure if the caller did
// not. The request context stays live: lazy rows of the result may still
// check it.
func (q *Queue) Finish(h *Handle) {
	h.Resolve(nil, failure.New(failure.EngineError, "request finished without a result"))

	q.mu.Lock()
	defer q.mu.Unlock()
	if !h.dispatched {
		return
	}
	h.dispatched = false
	q.inFlight--
	l := h.lane
	l.busy = false
	q.markReadyLocked(l)
	q.dropIfIdleLocked(l)
}

func (q *Queue) dropIfIdleLocked(l *lane) {
	if !l.busy && !l.ready && len(l.pending) == 0 && q.lanes[l.key] == l {
		delete(q.lanes, l.key)
	}
}

func (q *Queue) cancel(h *Handle) {
	q.mu.Lock()
	l := h.lane
	removed := false
	if !h.dispatched {
		for i, p := range l.pending {
			if p == h {
				l.pending = append(l.pending[:i], l.pending[i+1:]...)
				q.depth--
				removed = true
				break
			}
		}
		if removed {
			q.dropIfIdleLocked(l)
		}
	}
	q.mu.Unlock()

	if removed {
		h.Resolve(nil, failure.New(failure.Canceled, "request cancelled before dispatch"))
	}
	h.cancel()
}

// Depth returns the number of queued requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// InFlight returns the number of dispatched, unfinished requests.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Close stops accepting requests and fails every queued request with
// StoreUnavailable. Dispatched requests are unaffected. Workers blocked in
// Next return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var dropped []*Handle
	for _, l := range q.lanes {
		dropped = append(dropped, l.pending...)
		l.pending = nil
	}
	q.depth = 0
	q.ready = nil
	close(q.signal) // Wakes all waiters
	q.mu.Unlock()

	for _, h := range dropped {
		h.Resolve(nil, failure.New(failure.StoreUnavailable, "store is shutting down"))
		h.cancel()
	}
	if len(dropped) > 0 {
		q.log.Info("admission queue closed", "dropped", len(dropped))
	}
}
