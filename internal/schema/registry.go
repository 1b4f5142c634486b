package schema

import "sync"

// Registry publishes the committed schema. Readers take a Snapshot, which
// never changes afterwards; a write transaction stages definitions on a
// Stage and installs them with Commit once the engine commit succeeded.
type Registry struct {
	mu      sync.RWMutex
	current *Schema
	version uint64
}

// NewRegistry creates a registry holding s (an empty schema if nil).
func NewRegistry(s *Schema) *Registry {
	if s == nil {
		s = New()
	}
	return &Registry{current: s}
}

// Snapshot returns the committed schema. Callers must not modify it.
func (r *Registry) Snapshot() *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version increments every time staged definitions are committed.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Stage starts a set of pending definitions on top of the committed schema.
func (r *Registry) Stage() *Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Stage{base: r.current, baseVersion: r.version}
}

// Commit installs the staged schema. A stage with no changes is ignored.
// Writers are serialized, so the committed schema cannot have moved since
// the stage was taken; if it did, the stage's definitions are replayed on
// top of the newer schema.
func (r *Registry) Commit(st *Stage) error {
	if st == nil || !st.Dirty() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := st.working
	if r.version != st.baseVersion {
		next = r.current.Clone()
		for _, n := range st.nodes {
			if _, err := next.DefineNode(n); err != nil {
				return err
			}
		}
		for _, e := range st.edges {
			if _, err := next.DefineEdge(e); err != nil {
				return err
			}
		}
	}
	r.current = next
	r.version++
	return nil
}

// Stage accumulates definitions made inside one write transaction.
// It is not safe for concurrent use; a transaction is driven by one worker
// at a time.
type Stage struct {
	base        *Schema
	baseVersion uint64
	working     *Schema
	nodes       []NodeType
	edges       []EdgeType
}

// Schema returns the schema as seen inside the transaction.
func (st *Stage) Schema() *Schema {
	if st.working != nil {
		return st.working
	}
	return st.base
}

// DefineNode stages a node type definition.
func (st *Stage) DefineNode(t NodeType) (bool, error) {
	work := st.ensureWorking()
	changed, err := work.DefineNode(t)
	if err != nil || !changed {
		return changed, err
	}
	st.nodes = append(st.nodes, t)
	return true, nil
}

// DefineEdge stages an edge type definition.
func (st *Stage) DefineEdge(t EdgeType) (bool, error) {
	work := st.ensureWorking()
	changed, err := work.DefineEdge(t)
	if err != nil || !changed {
		return changed, err
	}
	st.edges = append(st.edges, t)
	return true, nil
}

// Dirty reports whether the stage holds definitions not yet committed.
func (st *Stage) Dirty() bool {
	return len(st.nodes) > 0 || len(st.edges) > 0
}

func (st *Stage) ensureWorking() *Schema {
	if st.working == nil {
		st.working = st.base.Clone()
	}
	return st.working
}
