package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Tx is an engine transaction. A Tx is driven by one goroutine at a time;
// Rollback may be called concurrently with other methods to force the
// transaction closed, which also closes any open cursors.
type Tx struct {
	tx    *sql.Tx
	conn  *sql.Conn
	write bool

	mu   sync.Mutex
	done bool
}

// BeginWrite starts a write transaction on the writer connection with
// BEGIN IMMEDIATE. ctx bounds the transaction's whole lifetime: when it is
// cancelled, database/sql rolls the transaction back.
func (db *DB) BeginWrite(ctx context.Context) (*Tx, error) {
	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin write: %w", err)
	}
	return &Tx{tx: tx, write: true}, nil
}

// BeginRead starts a read transaction on a reader connection and pins its
// snapshot immediately. Writes committed after BeginRead returns are
// invisible to the transaction. It waits for a free reader connection for
// as long as ctx allows.
func (db *DB) BeginRead(ctx context.Context) (*Tx, error) {
	rc, err := db.ReserveReader(ctx, 0)
	if err != nil {
		return nil, err
	}
	return rc.Begin(ctx)
}

// ReaderConn is a reader connection reserved for one read transaction.
type ReaderConn struct {
	conn *sql.Conn
}

// ReserveReader takes a connection from the reader pool. A positive wait
// bounds how long it waits for one; when it passes, ReserveReader fails
// with ErrReadersBusy.
func (db *DB) ReserveReader(ctx context.Context, wait time.Duration) (*ReaderConn, error) {
	connCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	conn, err := db.readers.Conn(connCtx)
	if err != nil {
		if ctx.Err() == nil && connCtx.Err() != nil {
			return nil, fmt.Errorf("begin read: %w", ErrReadersBusy)
		}
		return nil, fmt.Errorf("begin read: %w", err)
	}
	return &ReaderConn{conn: conn}, nil
}

// Begin starts the read transaction and pins its snapshot. The connection
// belongs to the transaction from then on and returns to the pool when it
// ends, or at once if Begin fails. ctx bounds the transaction's lifetime.
func (rc *ReaderConn) Begin(ctx context.Context) (*Tx, error) {
	tx, err := rc.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		rc.conn.Close()
		return nil, fmt.Errorf("begin read: %w", err)
	}

	// A deferred transaction takes its WAL snapshot on the first read.
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM node_types").Scan(&n); err != nil {
		tx.Rollback()
		rc.conn.Close()
		return nil, fmt.Errorf("begin read: pin snapshot: %w", err)
	}
	return &Tx{tx: tx, conn: rc.conn}, nil
}

// Release returns an unused reserved connection to the pool.
func (rc *ReaderConn) Release() error {
	return rc.conn.Close()
}

// Writable reports whether the transaction may modify the database.
func (t *Tx) Writable() bool {
	return t.write
}

// Commit makes the transaction's effects durable and visible to
// transactions that begin afterwards.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.done = true
	err := t.tx.Commit()
	t.releaseConn()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction is
// a no-op.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	t.releaseConn()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *Tx) releaseConn() {
	if t.conn != nil {
		t.conn.Close()
	}
}

// Done reports whether the transaction has ended.
func (t *Tx) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tx) checkWrite() error {
	if !t.write {
		return errors.New("write attempted in read transaction")
	}
	return nil
}
