package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/store"
)

// File names inside the data directory.
const (
	DBFile    = "graph.db"
	LockFile  = "graphd.lock"
	OwnerFile = "graphd.owner"
)

// Config configures Open.
type Config struct {
	// MaxReaders bounds concurrently open read transactions.
	MaxReaders int

	// BusyTimeout is how long the engine waits on its own file locks.
	BusyTimeout time.Duration
}

// Recovery describes what Open found in the data directory.
type Recovery struct {
	// Previous is the marker left by the last owner, nil for a new directory.
	Previous *Owner

	// Ran is true when the last owner did not shut down cleanly and the
	// engine files were verified before serving.
	Ran bool

	// Checkpoint is the result of folding the recovered WAL into the main
	// file. Zero unless Ran.
	Checkpoint store.CheckpointResult
}

// Drainer is called by Close, in registration order, before the engine is
// closed. It must end or abort every transaction it started.
type Drainer func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithNow sets the wall clock used for marker timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns an open data directory.
type Manager struct {
	dir      string
	log      *slog.Logger
	now      func() time.Time
	lock     *os.File
	db       *store.DB
	owner    Owner
	recovery Recovery
	handle   *Handle

	mu       sync.Mutex
	closing  bool
	users    sync.WaitGroup
	drainers []Drainer

	closeOnce sync.Once
	closeErr  error
}

// Open acquires exclusive ownership of dir, creating it if needed, recovers
// from an unclean previous shutdown, and opens the engine.
//
// Fails with StoreUnavailable if another process holds the directory or the
// engine files are corrupt beyond recovery.
func Open(ctx context.Context, dir string, cfg Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir: dir,
		log: logging.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.handle = &Handle{m: m}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, failure.Wrap(failure.StoreUnavailable, err, "create data directory")
	}

	lock, err := acquireDirLock(dir)
	if errors.Is(err, errLocked) {
		return nil, failure.Wrap(failure.StoreUnavailable, err, "open %s", dir)
	}
	if err != nil {
		return nil, failure.Wrap(failure.StoreUnavailable, err, "lock %s", dir)
	}
	m.lock = lock

	if err := m.open(ctx, cfg); err != nil {
		if m.db != nil {
			_ = m.db.Close()
		}
		_ = releaseDirLock(lock)
		return nil, err
	}
	return m, nil
}

func (m *Manager) open(ctx context.Context, cfg Config) error {
	prev, err := readOwner(m.dir)
	if err != nil {
		return failure.Wrap(failure.StoreUnavailable, err, "open %s", m.dir)
	}
	m.recovery.Previous = prev
	unclean := prev != nil && !prev.Clean

	if unclean {
		m.log.Warn("previous owner did not shut down cleanly",
			"dir", m.dir, "pid", prev.PID, "started", prev.Started)
	}

	// Opening the engine replays committed WAL frames and drops the rest.
	db, err := store.Open(ctx, filepath.Join(m.dir, DBFile), store.Options{
		MaxReaders:    cfg.MaxReaders,
		BusyTimeoutMS: int(cfg.BusyTimeout / time.Millisecond),
	})
	if err != nil {
		if store.IsCorrupt(err) {
			return failure.Wrap(failure.StoreUnavailable, err, "engine files are corrupt")
		}
		return failure.Wrap(failure.StoreUnavailable, err, "open engine")
	}
	m.db = db

	if unclean {
		if err := m.recover(ctx); err != nil {
			return err
		}
	}

	host, _ := os.Hostname()
	m.owner = Owner{PID: os.Getpid(), Host: host, Started: m.now().UTC()}
	if err := writeOwner(m.dir, m.owner); err != nil {
		return failure.Wrap(failure.StoreUnavailable, err, "open %s", m.dir)
	}

	m.log.Info("store opened", "dir", m.dir, "recovered", m.recovery.Ran, "sqlite", store.Version())
	return nil
}

func (m *Manager) recover(ctx context.Context) error {
	problems, err := m.db.IntegrityCheck(ctx)
	if err != nil {
		return failure.Wrap(failure.StoreUnavailable, err, "recovery")
	}
	if len(problems) > 0 {
		return failure.New(failure.StoreUnavailable, "corrupt beyond recovery: %s", problems[0])
	}

	res, err := m.db.Checkpoint(ctx, "TRUNCATE")
	if err != nil {
		return failure.Wrap(failure.StoreUnavailable, err, "recovery checkpoint")
	}
	m.recovery.Ran = true
	m.recovery.Checkpoint = res
	m.log.Info("recovery complete", "dir", m.dir,
		"wal_frames", res.LogFrames, "checkpointed", res.Checkpointed)
	return nil
}

// Dir returns the data directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Recovery reports what Open found.
func (m *Manager) Recovery() Recovery {
	return m.recovery
}

// Handle returns the engine handle.
func (m *Manager) Handle() *Handle {
	return m.handle
}

// OnShutdown registers d to run when Close begins.
func (m *Manager) OnShutdown(d Drainer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainers = append(m.drainers, d)
}

// Closing reports whether Close has begun.
func (m *Manager) Closing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

// Close shuts the store down: new Acquire calls fail, drainers run, the
// manager waits for outstanding handle users until ctx ends, then the engine
// is checkpointed and closed, the marker records a clean shutdown and the
// lock is released. Every step runs even if an earlier one failed.
// Close is idempotent; later calls return the first call's result.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closeErr = m.close(ctx)
	})
	return m.closeErr
}

func (m *Manager) close(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	drainers := m.drainers
	m.mu.Unlock()

	var errs []error
	for _, d := range drainers {
		if err := d(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
	}

	released := make(chan struct{})
	go func() {
		m.users.Wait()
		close(released)
	}()
	select {
	case <-released:
	case <-ctx.Done():
		m.log.Warn("closing with handle users outstanding", "dir", m.dir)
	}

	// Background ctx: the checkpoint must run even when the grace ctx ended.
	clean := true
	if _, err := m.db.Checkpoint(context.Background(), "TRUNCATE"); err != nil {
		errs = append(errs, err)
	}
	if err := m.db.Close(); err != nil {
		clean = false
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}

	if clean {
		m.owner.Clean = true
		m.owner.Stopped = m.now().UTC()
		if err := writeOwner(m.dir, m.owner); err != nil {
			errs = append(errs, err)
		}
	}

	if err := releaseDirLock(m.lock); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	m.log.Info("store closed", "dir", m.dir, "clean", clean)
	return errors.Join(errs...)
}

// Handle is the guarded reference to the open engine.
type Handle struct {
	m *Manager
}

// Acquire returns the engine for one use, which must be paired with Release.
// Fails with StoreUnavailable once shutdown has begun.
func (h *Handle) Acquire() (*store.DB, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.m.closing {
		return nil, failure.New(failure.StoreUnavailable, "store is shutting down")
	}
	h.m.users.Add(1)
	return h.m.db, nil
}

// Release ends a use started by Acquire.
func (h *Handle) Release() {
	h.m.users.Done()
}
