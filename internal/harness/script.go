package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
)

// Script is a sequence of steps run against the core.
type Script struct {
	// Name identifies the script and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Schema is an optional CUE schema file declared before the steps run.
	// Relative paths are resolved against the script's directory.
	Schema string `yaml:"schema,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are checked after every step has run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one script step. Exactly one of Open, Close or Op is set.
type Step struct {
	// Open opens a session under this alias.
	Open string `yaml:"open,omitempty"`

	// Mode is the mode of the session opened by Open: read or write.
	Mode string `yaml:"mode,omitempty"`

	// Close closes the session with this alias.
	Close string `yaml:"close,omitempty"`

	// Op is an operation kind such as create_node or begin.
	Op string `yaml:"op,omitempty"`

	// Session is the alias the operation runs in. Empty runs it
	// anonymously with autocommit.
	Session string `yaml:"session,omitempty"`

	Payload map[string]any `yaml:"payload,omitempty"`

	// Expect checks the step's outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes a step's expected outcome.
type Expect struct {
	// Error is the expected failure kind, e.g. SCHEMA_VIOLATION.
	Error string `yaml:"error,omitempty"`

	// Affected is the expected mutation count.
	Affected *int64 `yaml:"affected,omitempty"`

	// Rows is the expected number of result rows.
	Rows *int `yaml:"rows,omitempty"`
}

// Assertion validates the state after a script ran.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Of is the node or edge type counted (count).
	Of string `yaml:"of,omitempty"`

	// Op is the operation kind counted (trace_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected operation order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	Count int64 `yaml:"count"`
}

// Assertion types.
const (
	AssertCount      = "count"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertFailures   = "failures"
)

// LoadScript reads and validates a script file. Unknown fields are
// rejected. A relative schema path is resolved against the script's
// directory.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, err
	}
	if s.Schema != "" && !filepath.IsAbs(s.Schema) {
		s.Schema = filepath.Join(filepath.Dir(path), s.Schema)
	}
	return s, nil
}

// ParseScript parses and validates a script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

// Validate checks the script's structure. It does not decode payloads;
// a malformed payload fails its step with INVALID_REQUEST when run.
func (s *Script) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	open := make(map[string]bool)
	for i, step := range s.Steps {
		set := 0
		for _, v := range []string{step.Open, step.Close, step.Op} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of open, close or op is required", i)
		}

		switch {
		case step.Open != "":
			if open[step.Open] {
				return fmt.Errorf("steps[%d]: session %q is already open", i, step.Open)
			}
			if _, err := graph.ParseMode(step.Mode); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			open[step.Open] = true
		case step.Close != "":
			if !open[step.Close] {
				return fmt.Errorf("steps[%d]: session %q is not open", i, step.Close)
			}
			delete(open, step.Close)
		default:
			if step.Session != "" && !open[step.Session] {
				return fmt.Errorf("steps[%d]: session %q is not open", i, step.Session)
			}
		}

		if step.Expect != nil && step.Expect.Error != "" && !knownKind(step.Expect.Error) {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if a.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	switch a.Type {
	case AssertCount:
		if a.Of == "" {
			return fmt.Errorf("of is required for count")
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("op is required for trace_count")
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("ops list is required for trace_order")
		}
	case AssertFailures:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func knownKind(k string) bool {
	switch failure.Kind(k) {
	case failure.StoreUnavailable, failure.Overloaded, failure.DeadlineExceeded,
		failure.LockTimeout, failure.ConflictAborted, failure.TransactionTimeout,
		failure.SchemaViolation, failure.EngineError, failure.UnknownSession,
		failure.SessionExpired, failure.Canceled, failure.NotFound, failure.InvalidRequest:
		return true
	}
	return false
}
