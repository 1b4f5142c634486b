package importer

import (
	"context"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
)

// writer batches operations into explicit write transactions of the
// import session.
type writer struct {
	im      *Importer
	ctx     context.Context
	session string
	pending int
	open    bool
}

// add runs op in the current batch, opening one if needed, and commits
// once the batch is full. A NotFound or SchemaViolation failure leaves the
// batch open so the caller may skip the operation.
func (w *writer) add(op graph.Operation) error {
	if !w.open {
		if _, err := w.im.core.Do(w.ctx, w.session, graph.Begin{Mode: graph.ModeWrite}); err != nil {
			return err
		}
		w.open = true
	}
	if _, err := w.im.core.Do(w.ctx, w.session, op); err != nil {
		w.abandonIfEnded(err)
		return err
	}
	w.pending++
	if w.pending >= w.im.batch {
		return w.flush()
	}
	return nil
}

// flush commits the current batch.
func (w *writer) flush() error {
	if !w.open {
		return nil
	}
	w.open = false
	w.pending = 0
	_, err := w.im.core.Do(w.ctx, w.session, graph.Commit{})
	return err
}

// abandonIfEnded forgets the batch when the failure ended its transaction.
func (w *writer) abandonIfEnded(err error) {
	switch failure.KindOf(err) {
	case failure.NotFound, failure.SchemaViolation, failure.InvalidRequest:
		return
	}
	w.open = false
	w.pending = 0
	w.im.core.Do(w.ctx, w.session, graph.Rollback{})
}
