package executor

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
)

var (
	// ErrResultExpired is returned when rows are consumed after the
	// transaction that produced them ended.
	ErrResultExpired = errors.New("result expired: its transaction has ended")

	// ErrNotRestartable is returned when rows are consumed a second time.
	ErrNotRestartable = errors.New("result is single-pass and was already consumed")
)

// producer yields the next row, or io.EOF when exhausted.
type producer func() (graph.Row, error)

// Rows is a lazy, finite, single-pass sequence of result rows bound to the
// transaction that produced it.
//
// Next returns io.EOF once after the last row; after that, or after Close,
// Next returns ErrNotRestartable. If the transaction ends before the rows
// are exhausted, Next returns ErrResultExpired.
type Rows struct {
	mu       sync.Mutex
	next     producer
	alive    func() bool
	mapErr   func(error) error
	finished bool
	buffered bool
	onClose  []func()
	closeFns []func() error

	delivered atomic.Bool
}

// newRows creates rows over next. Errors from next that are not already
// failures become ErrResultExpired if the transaction has ended, and go
// through mapErr otherwise.
func newRows(next producer, alive func() bool, mapErr func(error) error) *Rows {
	return &Rows{next: next, alive: alive, mapErr: mapErr}
}

// staticRows returns rows over an already computed slice.
func staticRows(rows []graph.Row, alive func() bool) *Rows {
	i := 0
	r := newRows(func() (graph.Row, error) {
		if i >= len(rows) {
			return graph.Row{}, io.EOF
		}
		r := rows[i]
		i++
		return r, nil
	}, alive, func(err error) error { return err })
	r.buffered = true
	return r
}

// Detach unbinds rows that were computed in full from their transaction,
// so they stay readable after it ends. It reports false and leaves the
// rows bound when they stream from the engine.
func (r *Rows) Detach() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.buffered {
		return false
	}
	r.alive = func() bool { return true }
	return true
}

// Delivered marks the rows as handed to the caller. From then on the
// request deadline no longer stops them; explicit cancellation still does.
func (r *Rows) Delivered() {
	r.delivered.Store(true)
}

// Next returns the next row.
func (r *Rows) Next() (graph.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return graph.Row{}, ErrNotRestartable
	}
	if !r.alive() {
		r.finishLocked()
		return graph.Row{}, ErrResultExpired
	}

	row, err := r.next()
	if err != nil {
		var f *failure.Failure
		switch {
		case err == io.EOF, errors.As(err, &f):
		case !r.alive():
			err = ErrResultExpired
		default:
			err = r.mapErr(err)
		}
		r.finishLocked()
		return graph.Row{}, err
	}
	return row, nil
}

// All drains the remaining rows.
func (r *Rows) All() ([]graph.Row, error) {
	var out []graph.Row
	for {
		row, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}

// Close releases the rows. Closing exhausted or closed rows is a no-op.
func (r *Rows) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	return r.finishLocked()
}

// OnClose registers fn to run once when the rows are exhausted, fail,
// expire or are closed. If that already happened fn runs immediately.
func (r *Rows) OnClose(fn func()) {
	r.mu.Lock()
	if !r.finished {
		r.onClose = append(r.onClose, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// closeWith registers engine resources released when the rows finish.
func (r *Rows) closeWith(fn func() error) {
	r.closeFns = append(r.closeFns, fn)
}

func (r *Rows) finishLocked() error {
	r.finished = true
	var errs []error
	for _, fn := range r.closeFns {
		errs = append(errs, fn())
	}
	r.closeFns = nil
	hooks := r.onClose
	r.onClose = nil
	for _, fn := range hooks {
		fn()
	}
	return errors.Join(errs...)
}
