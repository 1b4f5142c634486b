package txn

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/store"
)

// State is the lifecycle state of a transaction.
type State int

const (
	Active State = iota + 1
	Committing
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Tx is a coordinated transaction.
type Tx struct {
	id      string
	owner   string
	mode    graph.Mode
	started time.Time

	c      *Coordinator
	engine *store.Tx
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	done   chan struct{}

	// Exactly one of these is set: writers stage schema definitions,
	// readers see the schema committed when they began.
	stage    *schema.Stage
	snapshot *schema.Schema

	mu    sync.Mutex
	state State
	cause *failure.Failure
}

// ID returns the transaction ID.
func (t *Tx) ID() string { return t.id }

// Owner returns the owning session ID ("" for implicit transactions).
func (t *Tx) Owner() string { return t.owner }

// Mode returns the access mode.
func (t *Tx) Mode() graph.Mode { return t.mode }

// Started returns the begin time.
func (t *Tx) Started() time.Time { return t.started }

// Writable reports whether the transaction holds the writer slot.
func (t *Tx) Writable() bool { return t.mode == graph.ModeWrite }

// Engine returns the engine transaction. Only the holder of an Active Tx
// may use it.
func (t *Tx) Engine() *store.Tx { return t.engine }

// Context is cancelled when the transaction ends for any reason.
func (t *Tx) Context() context.Context { return t.ctx }

// Done is closed once the transaction is Committed or Aborted and its
// resources are released.
func (t *Tx) Done() <-chan struct{} { return t.done }

// Schema returns the schema operations in this transaction validate
// against.
func (t *Tx) Schema() *schema.Schema {
	if t.stage != nil {
		return t.stage.Schema()
	}
	return t.snapshot
}

// Stage returns the pending schema definitions of a write transaction, nil
// for readers.
func (t *Tx) Stage() *schema.Stage { return t.stage }

// State returns the current state.
func (t *Tx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns why the transaction was aborted, or nil if it was not, or
// was aborted by its owner.
func (t *Tx) Err() *failure.Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// Check returns nil while the transaction is Active, otherwise the failure
// a caller using it should see.
func (t *Tx) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked()
}

func (t *Tx) checkLocked() error {
	switch t.state {
	case Active:
		return nil
	case Aborted:
		if t.cause != nil {
			return t.cause
		}
		return failure.New(failure.InvalidRequest, "transaction %s was rolled back", t.id)
	case Committed:
		return failure.New(failure.InvalidRequest, "transaction %s already committed", t.id)
	default:
		return failure.New(failure.InvalidRequest, "transaction %s is committing", t.id)
	}
}
