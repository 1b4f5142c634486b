package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/graphd/internal/store"
)

// Report is the result of Check.
type Report struct {
	Dir       string            `json:"dir"`
	Previous  *Owner            `json:"previous_owner,omitempty"`
	Recovered bool              `json:"recovered"`
	Integrity []string          `json:"integrity"`
	Counts    []store.TypeCount `json:"counts"`
	SQLite    string            `json:"sqlite_version"`
}

// Healthy reports whether the integrity check found nothing.
func (r Report) Healthy() bool {
	return len(r.Integrity) == 0
}

// Check opens dir (recovering it if needed), verifies the engine files and
// counts nodes and edges per type, then closes the store cleanly.
func Check(ctx context.Context, dir string, cfg Config, opts ...Option) (report Report, err error) {
	m, err := Open(ctx, dir, cfg, opts...)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		err = errors.Join(err, m.Close(ctx))
	}()

	rec := m.Recovery()
	report = Report{
		Dir:       dir,
		Previous:  rec.Previous,
		Recovered: rec.Ran,
		SQLite:    store.Version(),
	}

	db, err := m.Handle().Acquire()
	if err != nil {
		return report, err
	}
	defer m.Handle().Release()

	if report.Integrity, err = db.IntegrityCheck(ctx); err != nil {
		return report, err
	}

	tx, err := db.BeginRead(ctx)
	if err != nil {
		return report, fmt.Errorf("check: %w", err)
	}
	defer tx.Rollback()

	if report.Counts, err = tx.CountByType(ctx, ""); err != nil {
		return report, fmt.Errorf("check: %w", err)
	}
	return report, nil
}
