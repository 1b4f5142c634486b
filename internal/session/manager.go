// Package session tracks client sessions that span multiple requests.
//
// A session holds at most one explicit transaction. Sessions idle longer
// than the configured timeout are reclaimed by the reaper: the held
// transaction is aborted and a tombstone is left so that requests still
// naming the session fail with SessionExpired instead of UnknownSession.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/txn"
)

// Defaults applied by New for unset Config fields.
const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultRetention    = time.Hour
	DefaultReapInterval = 10 * time.Second
)

// Aborter aborts transactions held by reclaimed or closed sessions.
type Aborter interface {
	Abort(tx *txn.Tx)
}

// Config configures a Manager.
type Config struct {
	// IdleTimeout is how long a session may go without activity before it
	// is reclaimed.
	IdleTimeout time.Duration

	// Retention is how long a reclaimed session's tombstone is kept.
	Retention time.Duration

	// ReapInterval is how often Run scans for idle sessions.
	ReapInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithNow sets the clock used for activity tracking.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator sets the session ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

type tombstone struct {
	at      time.Time
	expired bool // reclaimed by the reaper, not closed by the client
}

// Manager owns the session table.
type Manager struct {
	aborter Aborter
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	newID   func() string

	mu         sync.Mutex
	sessions   map[string]*Session
	tombstones map[string]tombstone
	closed     bool
}

// New creates a manager. Transactions of reclaimed sessions are aborted
// through aborter.
func New(aborter Aborter, cfg Config, opts ...Option) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	m := &Manager{
		aborter:    aborter,
		cfg:        cfg,
		log:        logging.NewNop(),
		now:        time.Now,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
		sessions:   make(map[string]*Session),
		tombstones: make(map[string]tombstone),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create allocates a new session.
func (m *Manager) Create(mode graph.Mode) (*Session, error) {
	if mode != graph.ModeRead && mode != graph.ModeWrite {
		return nil, failure.New(failure.InvalidRequest, "invalid session mode %v", mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, failure.New(failure.StoreUnavailable, "store is shutting down")
	}

	now := m.now()
	s := &Session{
		id:         m.newID(),
		mode:       mode,
		created:    now,
		lastActive: now,
	}
	m.sessions[s.id] = s
	m.log.Debug("session created", "session", s.id, "mode", mode)
	return s, nil
}

// Resolve returns the live session id and records activity on it.
func (m *Manager) Resolve(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	s.lastActive = m.now()
	return s, nil
}

// Acquire resolves id and marks the session in use until Release. A
// session in use is never reclaimed.
func (m *Manager) Acquire(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	s.refs++
	s.lastActive = m.now()
	return s, nil
}

// Release ends a use started by Acquire and records activity.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
	s.lastActive = m.now()
}

// Touch records activity on session id.
func (m *Manager) Touch(id string) error {
	_, err := m.Resolve(id)
	return err
}

func (m *Manager) lookupLocked(id string) (*Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if ts, ok := m.tombstones[id]; ok && ts.expired {
		return nil, failure.New(failure.SessionExpired, "session %s expired after %s idle", id, m.cfg.IdleTimeout)
	}
	return nil, failure.New(failure.UnknownSession, "unknown session %s", id)
}

// Close destroys session id and aborts its transaction. Closing a session
// that is already closed or reclaimed is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		_, known := m.tombstones[id]
		m.mu.Unlock()
		if known {
			return nil
		}
		return failure.New(failure.UnknownSession, "unknown session %s", id)
	}
	delete(m.sessions, id)
	m.tombstones[id] = tombstone{at: m.now()}
	m.mu.Unlock()

	m.destroy(s, "closed")
	return nil
}

// Reap reclaims sessions idle for longer than the idle timeout and drops
// tombstones older than the retention period. It returns the number of
// sessions reclaimed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	now := m.now()
	var idle []*Session
	for id, s := range m.sessions {
		if s.refs > 0 || now.Sub(s.lastActive) < m.cfg.IdleTimeout {
			continue
		}
		delete(m.sessions, id)
		m.tombstones[id] = tombstone{at: now, expired: true}
		idle = append(idle, s)
	}
	for id, ts := range m.tombstones {
		if now.Sub(ts.at) >= m.cfg.Retention {
			delete(m.tombstones, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.destroy(s, "expired")
	}
	if len(idle) > 0 {
		m.log.Info("reclaimed idle sessions", "count", len(idle))
	}
	return len(idle)
}

// Run reaps idle sessions every ReapInterval until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Shutdown destroys every session and rejects new ones. It is idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		delete(m.sessions, id)
		m.tombstones[id] = tombstone{at: m.now()}
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.destroy(s, "shutdown")
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) destroy(s *Session, reason string) {
	tx := s.close()
	if tx != nil {
		m.aborter.Abort(tx)
	}
	m.log.Debug("session destroyed", "session", s.id, "reason", reason, "had_tx", tx != nil)
}
