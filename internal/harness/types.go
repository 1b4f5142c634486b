package harness

import "github.com/roach88/graphd/internal/graph"

// Step outcomes that are not operation kinds.
const (
	EventOpen  = "open_session"
	EventClose = "close_session"
)

// TraceEvent records one executed step. Generated IDs are left out so
// traces of the same script are identical across runs.
type TraceEvent struct {
	Step     int         `json:"step"`
	Op       string      `json:"op"`
	Session  string      `json:"session,omitempty"`
	Mode     string      `json:"mode,omitempty"`
	Affected int64       `json:"affected,omitempty"`
	IDs      []int64     `json:"ids,omitempty"`
	Rows     []graph.Row `json:"rows,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Result is the outcome of running a script.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed expectation and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
