package graph

import "fmt"

// Mode is the access mode of a session or transaction.
type Mode int

const (
	// ModeRead admits only read operations and observes a snapshot.
	ModeRead Mode = iota + 1
	// ModeWrite admits reads and writes; at most one write transaction is
	// active at a time.
	ModeWrite
)

// String returns "read" or "write".
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "read"/"read-only"/"ro" and "write"/"read-write"/"rw".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "read", "read-only", "readonly", "ro":
		return ModeRead, nil
	case "write", "read-write", "readwrite", "rw":
		return ModeWrite, nil
	default:
		return 0, fmt.Errorf("invalid mode %q: must be read or write", s)
	}
}

// Node is a stored graph node.
type Node struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Props Props  `json:"props"`
}

// Edge is a stored directed graph edge.
type Edge struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	From  int64  `json:"from"`
	To    int64  `json:"to"`
	Props Props  `json:"props"`
}

// NodeRef identifies a node either by engine ID or by (type, primary key).
type NodeRef struct {
	ID   int64  `mapstructure:"id"`
	Type string `mapstructure:"type"`
	Key  Value  `mapstructure:"-"`
}

// ByID is a shorthand for NodeRef{ID: id}.
func ByID(id int64) NodeRef {
	return NodeRef{ID: id}
}

// ByKey is a shorthand for NodeRef{Type: typ, Key: key}.
func ByKey(typ string, key Value) NodeRef {
	return NodeRef{Type: typ, Key: key}
}

// IsZero reports whether the reference names nothing.
func (r NodeRef) IsZero() bool {
	return r.ID == 0 && r.Key == nil
}

// String renders the reference for messages.
func (r NodeRef) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("node %d", r.ID)
	}
	return fmt.Sprintf("%s[%s]", r.Type, FormatValue(r.Key))
}

// Direction selects which edges a traversal follows.
type Direction string

const (
	// Outgoing follows edges from the current node.
	Outgoing Direction = "out"
	// Incoming follows edges into the current node.
	Incoming Direction = "in"
	// Both follows edges in either direction.
	Both Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Outgoing || d == Incoming || d == Both
}

// RowKind distinguishes result row shapes.
type RowKind string

const (
	// RowNode carries a node (get_node, match_nodes).
	RowNode RowKind = "node"
	// RowPath carries a node reached by traversal plus the edge used and depth.
	RowPath RowKind = "path"
	// RowCount carries an entity count for a type.
	RowCount RowKind = "count"
)

// Row is one typed result row.
type Row struct {
	Kind RowKind `json:"kind"`

	// Node is set for RowNode and RowPath.
	Node *Node `json:"node,omitempty"`

	// Edge is the edge that reached Node (RowPath only).
	Edge *Edge `json:"edge,omitempty"`

	// Depth is the traversal depth of Node (RowPath only).
	Depth int `json:"depth,omitempty"`

	// Entity is "node" or "edge" and Type the type name (RowCount only).
	Entity string `json:"entity,omitempty"`
	Type   string `json:"type,omitempty"`
	Count  int64  `json:"count,omitempty"`
}
