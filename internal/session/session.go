package session

import (
	"sync"
	"time"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/txn"
)

// Session is a client's logical context. It holds at most one explicit
// transaction at a time.
type Session struct {
	id      string
	mode    graph.Mode
	created time.Time

	// Guarded by Manager.mu.
	lastActive time.Time
	refs       int

	mu     sync.Mutex
	tx     *txn.Tx
	closed bool
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Mode returns the session's access mode.
func (s *Session) Mode() graph.Mode { return s.mode }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Tx returns the session's explicit transaction, or nil.
func (s *Session) Tx() *txn.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// Attach makes tx the session's explicit transaction.
func (s *Session) Attach(tx *txn.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failure.New(failure.SessionExpired, "session %s is closed", s.id)
	}
	if s.tx != nil {
		return failure.New(failure.InvalidRequest, "session %s already has transaction %s", s.id, s.tx.ID())
	}
	s.tx = tx
	return nil
}

// Detach clears the explicit transaction if it is tx.
func (s *Session) Detach(tx *txn.Tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == tx {
		s.tx = nil
	}
}

// Closed reports whether the session was destroyed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close marks the session destroyed and returns the transaction it held.
func (s *Session) close() *txn.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	tx := s.tx
	s.tx = nil
	return tx
}
