package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a node's primary key is already taken
	// by another node of the same type.
	ErrDuplicateKey = errors.New("duplicate primary key")

	// ErrReadersBusy is returned when no reader connection frees up within
	// the allowed wait.
	ErrReadersBusy = errors.New("no reader connection available")

	// ErrTxDone is returned when a transaction is used after it ended.
	ErrTxDone = errors.New("transaction has already been committed or rolled back")
)

// IsTransient reports whether err is an engine condition that may succeed
// on retry: lock contention, I/O errors, a full disk or memory exhaustion.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrNomem, sqlite3.ErrProtocol:
		return true
	}
	return false
}

// IsCorrupt reports whether err signals a damaged database file.
func IsCorrupt(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
