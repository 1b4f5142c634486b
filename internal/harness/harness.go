package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/graphd/internal/admission"
	"github.com/roach88/graphd/internal/executor"
	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/logging"
)

// Core is the part of the service core a script drives. *engine.Engine
// implements it.
type Core interface {
	BeginSession(mode graph.Mode) (string, error)
	CloseSession(id string) error
	SubmitOperation(sessionID string, kind graph.OpKind, payload map[string]any, deadline time.Time) (*admission.Handle, error)
	AwaitResult(ctx context.Context, h *admission.Handle) (*executor.Result, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithStepTimeout bounds each operation step with a request deadline.
// Zero, the default, submits steps without a deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithNow sets the time source used for step deadlines.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes scripts against a Core.
type Runner struct {
	core        Core
	log         *slog.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

// New creates a runner.
func New(core Core, opts ...Option) *Runner {
	r := &Runner{core: core, log: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every step of s in order, checks expectations and
// assertions, and returns the trace. Failed expectations are recorded in
// the result; the returned error is reserved for ctx ending or a session
// that could not be opened.
//
// Sessions the script leaves open are closed before Run returns.
func (r *Runner) Run(ctx context.Context, s *Script) (*Result, error) {
	result := NewResult()
	sessions := make(map[string]string)
	defer func() {
		for alias, id := range sessions {
			if err := r.core.CloseSession(id); err != nil {
				r.log.Debug("closing leftover session", "session", alias, "error", err)
			}
		}
	}()

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n := i + 1

		switch {
		case step.Open != "":
			mode, err := graph.ParseMode(step.Mode)
			if err != nil {
				return result, fmt.Errorf("step %d: %w", n, err)
			}
			id, err := r.core.BeginSession(mode)
			if err != nil {
				return result, fmt.Errorf("step %d: open session %s: %w", n, step.Open, err)
			}
			sessions[step.Open] = id
			result.Trace = append(result.Trace, TraceEvent{Step: n, Op: EventOpen, Session: step.Open, Mode: mode.String()})

		case step.Close != "":
			ev := TraceEvent{Step: n, Op: EventClose, Session: step.Close}
			err := r.core.CloseSession(sessions[step.Close])
			delete(sessions, step.Close)
			if err != nil {
				ev.Error = string(failure.From(err).Kind)
			}
			result.Trace = append(result.Trace, ev)
			r.check(result, n, step.Expect, ev, nil)

		default:
			ev, res, err := r.runOp(ctx, n, step, sessions)
			if err != nil {
				return result, err
			}
			result.Trace = append(result.Trace, ev)
			r.check(result, n, step.Expect, ev, res)
		}
	}

	for i, a := range s.Assertions {
		if err := r.assert(ctx, result, a); err != nil {
			result.AddError(fmt.Sprintf("assertion %d (%s): %v", i+1, a.Type, err))
		}
	}
	return result, nil
}

// runOp submits one operation step. Result rows are drained into the
// trace event, which also releases any snapshot they hold.
func (r *Runner) runOp(ctx context.Context, n int, step Step, sessions map[string]string) (TraceEvent, *executor.Result, error) {
	ev := TraceEvent{Step: n, Op: step.Op, Session: step.Session}

	res, err := r.submit(ctx, sessions[step.Session], graph.OpKind(step.Op), step.Payload)
	if ctx.Err() != nil {
		return ev, nil, ctx.Err()
	}
	if err != nil {
		ev.Error = string(failure.From(err).Kind)
		r.log.Debug("step failed", "step", n, "op", step.Op, "error", err)
		return ev, nil, nil
	}

	ev.Affected = res.Affected
	ev.IDs = res.IDs
	if res.Rows != nil {
		rows, err := res.Rows.All()
		if err != nil {
			ev.Error = string(failure.From(err).Kind)
		}
		ev.Rows = rows
	}
	return ev, res, nil
}

func (r *Runner) submit(ctx context.Context, session string, kind graph.OpKind, payload map[string]any) (*executor.Result, error) {
	var deadline time.Time
	if r.stepTimeout > 0 {
		deadline = r.now().Add(r.stepTimeout)
	}
	h, err := r.core.SubmitOperation(session, kind, payload, deadline)
	if err != nil {
		return nil, err
	}
	res, err := r.core.AwaitResult(ctx, h)
	if err != nil && ctx.Err() != nil {
		h.Cancel()
	}
	return res, err
}

func (r *Runner) check(result *Result, n int, want *Expect, ev TraceEvent, res *executor.Result) {
	if want == nil {
		if ev.Error != "" {
			result.AddError(fmt.Sprintf("step %d (%s): unexpected failure %s", n, ev.Op, ev.Error))
		}
		return
	}
	if ev.Error != want.Error {
		result.AddError(fmt.Sprintf("step %d (%s): expected error %q, got %q", n, ev.Op, want.Error, ev.Error))
		return
	}
	if want.Affected != nil && ev.Affected != *want.Affected {
		result.AddError(fmt.Sprintf("step %d (%s): expected affected %d, got %d", n, ev.Op, *want.Affected, ev.Affected))
	}
	if want.Rows != nil && len(ev.Rows) != *want.Rows {
		result.AddError(fmt.Sprintf("step %d (%s): expected %d rows, got %d", n, ev.Op, *want.Rows, len(ev.Rows)))
	}
}

func (r *Runner) assert(ctx context.Context, result *Result, a Assertion) error {
	switch a.Type {
	case AssertCount:
		res, err := r.submit(ctx, "", graph.OpCount, map[string]any{"type": a.Of})
		if err != nil {
			return err
		}
		rows, err := res.Rows.All()
		if err != nil {
			return err
		}
		var got int64
		for _, row := range rows {
			if row.Type == a.Of {
				got += row.Count
			}
		}
		if got != a.Count {
			return fmt.Errorf("expected %d %s, got %d", a.Count, a.Of, got)
		}

	case AssertTraceCount:
		var got int64
		for _, ev := range result.Trace {
			if ev.Op == a.Op {
				got++
			}
		}
		if got != a.Count {
			return fmt.Errorf("expected %d %s steps, got %d", a.Count, a.Op, got)
		}

	case AssertTraceOrder:
		ops := make([]string, len(result.Trace))
		for i, ev := range result.Trace {
			ops[i] = ev.Op
		}
		pos := 0
		for _, want := range a.Ops {
			idx := slices.Index(ops[pos:], want)
			if idx < 0 {
				return fmt.Errorf("%s not found after position %d in %v", want, pos, ops)
			}
			pos += idx + 1
		}

	case AssertFailures:
		var got int64
		for _, ev := range result.Trace {
			if ev.Error != "" {
				got++
			}
		}
		if got != a.Count {
			return fmt.Errorf("expected %d failed steps, got %d", a.Count, got)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
