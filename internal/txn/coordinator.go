package txn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/store"
)

// Handle gives access to the open engine. lifecycle.Handle implements it.
type Handle interface {
	Acquire() (*store.DB, error)
	Release()
}

// Config configures a Coordinator. Zero durations disable the limit.
type Config struct {
	// LockWait bounds how long Begin waits for the writer slot or, for a
	// read transaction, a free reader connection.
	LockWait time.Duration

	// MaxWriteDuration bounds how long a write transaction may stay open.
	MaxWriteDuration time.Duration

	// MaxReadDuration bounds how long a read transaction may stay open.
	MaxReadDuration time.Duration
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	ActiveReaders  int    `json:"active_readers"`
	ActiveWriters  int    `json:"active_writers"`
	WaitingWriters int    `json:"waiting_writers"`
	Begun          uint64 `json:"begun"`
	Committed      uint64 `json:"committed"`
	Aborted        uint64 `json:"aborted"`
	TimedOut       uint64 `json:"timed_out"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithNow sets the wall clock used for transaction start times.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator sets the transaction ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// Coordinator admits transactions.
type Coordinator struct {
	handle   Handle
	registry *schema.Registry
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	newID    func() string

	// commitEngine commits the engine transaction; replaced in tests.
	commitEngine func(*store.Tx) error

	writer *semaphore.Weighted
	// publish orders write commits against read begins: a reader takes its
	// schema snapshot and pins its engine snapshot under the read lock, a
	// writer commits the engine and publishes its schema under the write
	// lock.
	publish    sync.RWMutex
	shutdown   context.Context
	stopAdmits context.CancelFunc
	inflight   sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	active     map[string]*Tx
	stats      Stats
	maxWriters int
}

// New creates a coordinator over handle. Schema definitions committed by
// write transactions are published to registry.
func New(handle Handle, registry *schema.Registry, cfg Config, opts ...Option) *Coordinator {
	shutdown, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		handle:       handle,
		registry:     registry,
		cfg:          cfg,
		log:          logging.NewNop(),
		now:          time.Now,
		newID:        func() string { return uuid.Must(uuid.NewV7()).String() },
		commitEngine: (*store.Tx).Commit,
		writer:       semaphore.NewWeighted(1),
		shutdown:     shutdown,
		stopAdmits:   stop,
		active:       make(map[string]*Tx),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a transaction owned by owner.
//
// A write transaction waits for the writer slot in FIFO order. Waiting is
// bounded by ctx and by the configured lock wait, which fails with
// LockTimeout. A read transaction starts on its own snapshot as soon as a
// reader connection is free; if none frees up within the lock wait it
// fails with Overloaded.
func (c *Coordinator) Begin(ctx context.Context, mode graph.Mode, owner string) (*Tx, error) {
	if err := c.admit(); err != nil {
		return nil, err
	}

	if mode == graph.ModeWrite {
		if err := c.acquireWriter(ctx); err != nil {
			c.inflight.Done()
			return nil, err
		}
	}

	tx, err := c.start(ctx, mode, owner)
	if err != nil {
		if mode == graph.ModeWrite {
			c.writer.Release(1)
		}
		c.inflight.Done()
		return nil, err
	}
	return tx, nil
}

func (c *Coordinator) admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return failure.New(failure.StoreUnavailable, "transaction coordinator is shut down")
	}
	c.inflight.Add(1)
	return nil
}

func (c *Coordinator) acquireWriter(ctx context.Context) error {
	c.mu.Lock()
	c.stats.WaitingWriters++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.stats.WaitingWriters--
		c.mu.Unlock()
	}()

	lockCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.cfg.LockWait > 0 {
		lockCtx, cancel = context.WithTimeout(lockCtx, c.cfg.LockWait)
		defer cancel()
	}
	stop := context.AfterFunc(c.shutdown, cancel)
	defer stop()

	err := c.writer.Acquire(lockCtx, 1)
	if err == nil && c.shutdown.Err() != nil {
		c.writer.Release(1)
		err = c.shutdown.Err()
	}
	if err == nil {
		return nil
	}

	switch {
	case c.shutdown.Err() != nil:
		return failure.New(failure.StoreUnavailable, "store is shutting down")
	case ctx.Err() != nil:
		return failure.From(ctx.Err())
	default:
		return failure.New(failure.LockTimeout, "writer slot not available within %s", c.cfg.LockWait)
	}
}

func (c *Coordinator) start(ctx context.Context, mode graph.Mode, owner string) (*Tx, error) {
	db, err := c.handle.Acquire()
	if err != nil {
		return nil, failure.From(err)
	}

	tx := &Tx{
		id:      c.newID(),
		owner:   owner,
		mode:    mode,
		started: c.now(),
		c:       c,
		done:    make(chan struct{}),
		state:   Active,
	}
	// The transaction outlives the request that began it, so it gets its
	// own context; it is cancelled when the transaction ends.
	tx.ctx, tx.cancel = context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, tx.cancel)
	defer stop()

	limit := c.cfg.MaxReadDuration
	if mode == graph.ModeWrite {
		tx.stage = c.registry.Stage()
		tx.engine, err = db.BeginWrite(tx.ctx)
		limit = c.cfg.MaxWriteDuration
	} else {
		tx.engine, err = c.beginRead(tx, db)
	}
	if err != nil {
		tx.cancel()
		c.handle.Release()
		switch {
		case ctx.Err() != nil:
			return nil, failure.From(ctx.Err())
		case errors.Is(err, store.ErrReadersBusy):
			return nil, failure.Wrap(failure.Overloaded, err, "no reader connection available within %s", c.cfg.LockWait)
		}
		return nil, failure.Engine(err, store.IsTransient(err), "begin %s transaction", mode)
	}
	if !stop() {
		// ctx ended while the engine transaction was starting.
		tx.engine.Rollback()
		tx.cancel()
		c.handle.Release()
		return nil, failure.From(ctx.Err())
	}

	// The timer is armed before the transaction is published so that
	// abort and Close always observe it.
	tx.mu.Lock()
	if limit > 0 {
		tx.timer = time.AfterFunc(limit, func() {
			c.log.Warn("transaction exceeded maximum duration",
				"tx", tx.id, "mode", mode.String(), "owner", owner, "limit", limit)
			c.abort(tx, failure.New(failure.TransactionTimeout,
				"transaction %s held open longer than %s", tx.id, limit), true)
		})
	}
	c.mu.Lock()
	c.active[tx.id] = tx
	c.stats.Begun++
	if mode == graph.ModeWrite {
		c.stats.ActiveWriters++
		c.maxWriters = max(c.maxWriters, c.stats.ActiveWriters)
	} else {
		c.stats.ActiveReaders++
	}
	c.mu.Unlock()
	tx.mu.Unlock()
	return tx, nil
}

// beginRead reserves a reader connection, then takes the schema snapshot
// and pins the engine snapshot with no write publishing in between.
func (c *Coordinator) beginRead(tx *Tx, db *store.DB) (*store.Tx, error) {
	rc, err := db.ReserveReader(tx.ctx, c.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	c.publish.RLock()
	defer c.publish.RUnlock()
	tx.snapshot = c.registry.Snapshot()
	return rc.Begin(tx.ctx)
}

// Commit commits tx. Its effects become visible to transactions that
// begin afterwards. If the engine cannot apply it, tx ends Aborted and
// Commit fails with ConflictAborted. Committing a transaction that was
// force-aborted returns the abort failure.
func (c *Coordinator) Commit(tx *Tx) error {
	tx.mu.Lock()
	if err := tx.checkLocked(); err != nil {
		tx.mu.Unlock()
		return err
	}
	tx.state = Committing
	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.mu.Unlock()

	if tx.Writable() {
		c.publish.Lock()
	}
	err := c.commitEngine(tx.engine)
	if err == nil && tx.stage != nil {
		// The engine commit is durable; a registry failure can only mean a
		// definition conflicts with one committed concurrently, which the
		// writer slot rules out.
		if rerr := c.registry.Commit(tx.stage); rerr != nil {
			c.log.Error("schema publish failed after commit", "tx", tx.id, "error", rerr)
		}
	}
	if tx.Writable() {
		c.publish.Unlock()
	}

	tx.mu.Lock()
	if err != nil {
		tx.engine.Rollback()
		tx.state = Aborted
		tx.cause = failure.Wrap(failure.ConflictAborted, err, "transaction %s could not be committed", tx.id)
	} else {
		tx.state = Committed
	}
	cause := tx.cause
	tx.mu.Unlock()

	c.release(tx, err == nil, false)
	if err != nil {
		return cause
	}
	return nil
}

// Abort discards tx. Aborting a transaction that already ended is a no-op.
func (c *Coordinator) Abort(tx *Tx) {
	c.abort(tx, nil, false)
}

// AbortWith discards tx and records cause as the reason, which later
// Commit and Check calls return.
func (c *Coordinator) AbortWith(tx *Tx, cause *failure.Failure) {
	c.abort(tx, cause, false)
}

func (c *Coordinator) abort(tx *Tx, cause *failure.Failure, timedOut bool) {
	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return
	}
	tx.state = Aborted
	tx.cause = cause
	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.mu.Unlock()

	if err := tx.engine.Rollback(); err != nil {
		c.log.Warn("rollback failed", "tx", tx.id, "error", err)
	}
	c.release(tx, false, timedOut)
}

func (c *Coordinator) release(tx *Tx, committed, timedOut bool) {
	tx.cancel()

	c.mu.Lock()
	delete(c.active, tx.id)
	if committed {
		c.stats.Committed++
	} else {
		c.stats.Aborted++
	}
	if timedOut {
		c.stats.TimedOut++
	}
	if tx.Writable() {
		c.stats.ActiveWriters--
	} else {
		c.stats.ActiveReaders--
	}
	c.mu.Unlock()

	if tx.Writable() {
		c.writer.Release(1)
	}
	c.handle.Release()
	close(tx.done)
	c.inflight.Done()
}

// Stats returns current counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// MaxConcurrentWriters returns the largest number of write transactions
// ever active at once.
func (c *Coordinator) MaxConcurrentWriters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxWriters
}

// Close stops admitting transactions and waits for active ones to finish
// until ctx ends; the rest are force-aborted with StoreUnavailable.
// Writers still waiting for the slot fail with StoreUnavailable.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.stopAdmits()

	finished := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
	}

	// Begins admitted before Close may still register transactions, so
	// keep sweeping until every admitted transaction has ended.
	aborted := 0
	for {
		c.mu.Lock()
		remaining := make([]*Tx, 0, len(c.active))
		for _, tx := range c.active {
			remaining = append(remaining, tx)
		}
		c.mu.Unlock()

		for _, tx := range remaining {
			if tx.State() == Active {
				aborted++
			}
			c.abort(tx, failure.New(failure.StoreUnavailable, "store is shutting down"), false)
		}

		select {
		case <-finished:
			if aborted > 0 {
				c.log.Warn("force-aborted transactions at shutdown", "count", aborted)
			}
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}
