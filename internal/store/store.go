package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Fresh database (nothing applied yet)
// 1 - Initial graph schema
const currentSchemaVersion = 1

// DefaultMaxReaders bounds the reader connection pool when Options leaves
// it unset.
const DefaultMaxReaders = 32

// Options configures Open.
type Options struct {
	// MaxReaders bounds concurrently open read transactions.
	MaxReaders int

	// BusyTimeoutMS is how long SQLite waits on a file lock held by another
	// connection before failing with SQLITE_BUSY.
	BusyTimeoutMS int
}

// DB is an open graph database.
type DB struct {
	path    string
	writer  *sql.DB
	readers *sql.DB
}

// Open creates or opens the graph database at path.
// Applies required pragmas and migrations automatically.
//
// Opening a database whose WAL holds frames from a process that died replays
// the committed frames and discards the rest; this is SQLite's own recovery
// and happens before Open returns.
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	if opts.MaxReaders <= 0 {
		opts.MaxReaders = DefaultMaxReaders
	}
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}

	writer, err := sql.Open("sqlite3", dsn(path, opts, "immediate"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports one writer at a time
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	if err := writer.PingContext(ctx); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := verifyPragmas(ctx, writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(ctx, writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	readers, err := sql.Open("sqlite3", dsn(path, opts, "deferred"))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open reader pool: %w", err)
	}
	readers.SetMaxOpenConns(opts.MaxReaders)
	readers.SetMaxIdleConns(min(opts.MaxReaders, 4))

	return &DB{path: path, writer: writer, readers: readers}, nil
}

// dsn builds a mattn/go-sqlite3 DSN. Pragmas given as DSN parameters are
// applied to every connection the pool opens, not just the first.
func dsn(path string, opts Options, txlock string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", strconv.Itoa(opts.BusyTimeoutMS))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", txlock)
	return path + "?" + q.Encode()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes both connection pools. Closing the last connection
// checkpoints the WAL into the main file.
func (db *DB) Close() error {
	var errs []error
	if db.readers != nil {
		errs = append(errs, db.readers.Close())
	}
	if db.writer != nil {
		errs = append(errs, db.writer.Close())
	}
	return errors.Join(errs...)
}

// verifyPragmas checks that the DSN pragmas took effect.
func verifyPragmas(ctx context.Context, db *sql.DB) error {
	expected := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
	}
	for name, want := range expected {
		var got string
		if err := db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&got); err != nil {
			return fmt.Errorf("failed to query %s: %w", name, err)
		}
		if got != want {
			return fmt.Errorf("%s = %q, expected %q", name, got, want)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns the reported
// problems. An empty slice means the database is sound.
func (db *DB) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := db.writer.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	return problems, nil
}

// CheckpointResult reports the outcome of a WAL checkpoint.
type CheckpointResult struct {
	Busy         bool
	LogFrames    int
	Checkpointed int
}

// Checkpoint copies WAL frames into the main database file. mode is one of
// PASSIVE, FULL, RESTART or TRUNCATE.
func (db *DB) Checkpoint(ctx context.Context, mode string) (CheckpointResult, error) {
	switch mode {
	case "PASSIVE", "FULL", "RESTART", "TRUNCATE":
	default:
		return CheckpointResult{}, fmt.Errorf("invalid checkpoint mode %q", mode)
	}

	var busy int
	var res CheckpointResult
	err := db.writer.QueryRowContext(ctx, "PRAGMA wal_checkpoint("+mode+")").Scan(&busy, &res.LogFrames, &res.Checkpointed)
	if err != nil {
		return res, fmt.Errorf("checkpoint: %w", err)
	}
	res.Busy = busy != 0
	return res, nil
}

// Version returns the SQLite library version in use.
func Version() string {
	v, _, _ := sqlite3.Version()
	return v
}
