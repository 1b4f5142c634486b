package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/graphd/internal/admission"
	"github.com/roach88/graphd/internal/executor"
	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/session"
	"github.com/roach88/graphd/internal/txn"
)

// Limits applied when Config leaves them unset, so that no request can wait
// on the engine forever and no read can pin a connection forever.
const (
	DefaultLockWait        = 5 * time.Second
	DefaultMaxReadDuration = 5 * time.Minute
)

// Config configures an Engine.
type Config struct {
	// Workers is the number of requests executed in parallel.
	// Zero uses GOMAXPROCS.
	Workers int

	Queue   admission.Config
	Txn     txn.Config
	Session session.Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and the components it
// creates.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithNow sets the wall clock used for deadlines, idle tracking and
// transaction start times.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the generator for request, session and transaction
// IDs.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithClock sets the logical clock that stamps requests.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is the graphd service core.
//
// Thread-safety model:
//   - Submit, BeginSession, CloseSession, AwaitResult: safe from any goroutine
//   - Run: call once
type Engine struct {
	cfg      Config
	registry *schema.Registry
	coord    *txn.Coordinator
	sessions *session.Manager
	queue    *admission.Queue
	exec     *executor.Executor
	clock    *Clock
	log      *slog.Logger
	now      func() time.Time
	newID    func() string

	running atomic.Bool
}

// New creates an engine over handle. registry holds the committed graph
// schema; Bootstrap fills it from the engine catalog.
func New(handle txn.Handle, registry *schema.Registry, cfg Config, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Txn.LockWait <= 0 {
		cfg.Txn.LockWait = DefaultLockWait
	}
	if cfg.Txn.MaxReadDuration <= 0 {
		cfg.Txn.MaxReadDuration = DefaultMaxReadDuration
	}
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		clock:    NewClock(),
		log:      logging.NewNop(),
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(e)
	}

	e.coord = txn.New(handle, registry, cfg.Txn,
		txn.WithLogger(e.log), txn.WithNow(e.now), txn.WithIDGenerator(e.newID))
	e.sessions = session.New(e.coord, cfg.Session,
		session.WithLogger(e.log), session.WithNow(e.now), session.WithIDGenerator(e.newID))
	e.queue = admission.New(cfg.Queue, admission.WithLogger(e.log), admission.WithNow(e.now))
	e.exec = executor.New(e.coord, executor.WithLogger(e.log))
	return e
}

// Coordinator returns the transaction coordinator. The lifecycle manager
// registers its Close as a shutdown drainer.
func (e *Engine) Coordinator() *txn.Coordinator {
	return e.coord
}

// Schema returns the committed graph schema.
func (e *Engine) Schema() *schema.Schema {
	return e.registry.Snapshot()
}

// Run starts the worker pool and the session reaper and blocks until ctx
// ends. On return, queued requests have failed with StoreUnavailable,
// every session is closed and all workers have finished their current
// request. Transactions still open (such as implicit reads whose rows were
// never closed) are left to the coordinator's Close.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return failure.New(failure.InvalidRequest, "engine is already running")
	}
	e.log.Info("engine starting", "workers", e.cfg.Workers, "queue_depth", e.cfg.Queue.MaxDepth)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			e.worker(i)
			return nil
		})
	}
	g.Go(func() error {
		return e.sessions.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		e.Stop()
		return nil
	})

	err := g.Wait()
	e.log.Info("engine stopped", "last_seq", e.clock.Current())
	return err
}

// Stop stops admission and closes every session. Workers exit once their
// current request is done. Safe to call more than once.
func (e *Engine) Stop() {
	e.queue.Close()
	e.sessions.Shutdown()
}

// worker executes requests until the queue closes.
func (e *Engine) worker(n int) {
	for {
		h, err := e.queue.Next(context.Background())
		if err != nil {
			e.log.Debug("worker exiting", "worker", n)
			return
		}
		e.process(h)
	}
}

// BeginSession creates a session with the given access mode.
func (e *Engine) BeginSession(mode graph.Mode) (string, error) {
	s, err := e.sessions.Create(mode)
	if err != nil {
		return "", err
	}
	return s.ID(), nil
}

// CloseSession destroys a session and aborts its transaction. Closing a
// closed session is a no-op.
func (e *Engine) CloseSession(id string) error {
	return e.sessions.Close(id)
}

// SubmitOperation decodes a loosely typed payload into an operation and
// submits it. A payload that does not decode fails with InvalidRequest.
func (e *Engine) SubmitOperation(sessionID string, kind graph.OpKind, payload map[string]any, deadline time.Time) (*admission.Handle, error) {
	op, err := graph.DecodeOperation(kind, payload)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidRequest, err, "decode %s", kind)
	}
	return e.Submit(sessionID, op, deadline)
}

// Submit enqueues op for sessionID ("" for an anonymous request). It never
// blocks: a full queue fails with Overloaded, and an unknown or expired
// session fails at once.
func (e *Engine) Submit(sessionID string, op graph.Operation, deadline time.Time) (*admission.Handle, error) {
	id := e.newID()
	if op == nil {
		return nil, failure.New(failure.InvalidRequest, "missing operation").WithRequest(id)
	}
	if sessionID == "" && op.Class() == graph.ClassControl {
		return nil, failure.New(failure.InvalidRequest, "%s requires a session", op.Kind()).WithRequest(id)
	}
	if sessionID != "" {
		if err := e.sessions.Touch(sessionID); err != nil {
			return nil, failure.From(err).WithRequest(id)
		}
	}

	req := admission.Request{
		ID:        id,
		SessionID: sessionID,
		Op:        op,
		Deadline:  deadline,
		Seq:       e.clock.Next(),
	}
	h, err := e.queue.Submit(req)
	if err != nil {
		e.log.Debug("request rejected", "request", id, "seq", req.Seq, "kind", failure.KindOf(err))
		return nil, err
	}
	return h, nil
}

// AwaitResult waits for h to resolve. Giving up on ctx leaves the request
// running; cancel it with h.Cancel.
func (e *Engine) AwaitResult(ctx context.Context, h *admission.Handle) (*executor.Result, error) {
	return h.Await(ctx)
}

// Do submits op and waits for its result. If ctx ends first the request is
// cancelled. A deadline on ctx becomes the request deadline.
func (e *Engine) Do(ctx context.Context, sessionID string, op graph.Operation) (*executor.Result, error) {
	deadline, _ := ctx.Deadline()
	h, err := e.Submit(sessionID, op, deadline)
	if err != nil {
		return nil, err
	}
	res, err := h.Await(ctx)
	if err != nil && ctx.Err() != nil {
		h.Cancel()
		// Wait for the worker to let go of the request.
		<-h.Done()
		if res, rerr := h.Await(context.Background()); rerr == nil && res.Rows != nil {
			res.Rows.Close()
		}
	}
	return res, err
}

// Stats is a point-in-time view of the core.
type Stats struct {
	QueueDepth int       `json:"queue_depth"`
	InFlight   int       `json:"in_flight"`
	Sessions   int       `json:"sessions"`
	LastSeq    int64     `json:"last_seq"`
	Txn        txn.Stats `json:"txn"`
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		QueueDepth: e.queue.Depth(),
		InFlight:   e.queue.InFlight(),
		Sessions:   e.sessions.Len(),
		LastSeq:    e.clock.Current(),
		Txn:        e.coord.Stats(),
	}
}
