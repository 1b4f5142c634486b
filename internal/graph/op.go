package graph

// OpKind names an operation kind on the wire.
type OpKind string

const (
	OpCreateNode     OpKind = "create_node"
	OpUpdateNode     OpKind = "update_node"
	OpDeleteNode     OpKind = "delete_node"
	OpCreateEdge     OpKind = "create_edge"
	OpDeleteEdge     OpKind = "delete_edge"
	OpDefineNodeType OpKind = "define_node_type"
	OpDefineEdgeType OpKind = "define_edge_type"
	OpGetNode        OpKind = "get_node"
	OpMatchNodes     OpKind = "match_nodes"
	OpTraverse       OpKind = "traverse"
	OpCount          OpKind = "count"
	OpBegin          OpKind = "begin"
	OpCommit         OpKind = "commit"
	OpRollback       OpKind = "rollback"
)

// Class groups operation kinds by how the core schedules them.
type Class int

const (
	// ClassRead operations run in a read or write transaction.
	ClassRead Class = iota + 1
	// ClassWrite operations require a write transaction.
	ClassWrite
	// ClassControl operations manage the session's explicit transaction.
	ClassControl
)

// Operation is a sealed interface describing one logical graph operation.
// Operations are immutable once submitted.
type Operation interface {
	Kind() OpKind
	Class() Class
	operation() // Sealed
}

// CreateNode creates a node of Type with Props.
type CreateNode struct {
	Type  string
	Props Props
}

func (CreateNode) Kind() OpKind { return OpCreateNode }
func (CreateNode) Class() Class { return ClassWrite }
func (CreateNode) operation()   {}

// UpdateNode merges Props into the referenced node. Null values remove keys.
type UpdateNode struct {
	Node  NodeRef
	Props Props
}

func (UpdateNode) Kind() OpKind { return OpUpdateNode }
func (UpdateNode) Class() Class { return ClassWrite }
func (UpdateNode) operation()   {}

// DeleteNode removes the referenced node. Without Detach, a node that still
// has edges is not deleted.
type DeleteNode struct {
	Node   NodeRef
	Detach bool
}

func (DeleteNode) Kind() OpKind { return OpDeleteNode }
func (DeleteNode) Class() Class { return ClassWrite }
func (DeleteNode) operation()   {}

// CreateEdge creates a directed edge of Type between two existing nodes.
type CreateEdge struct {
	Type  string
	From  NodeRef
	To    NodeRef
	Props Props
}

func (CreateEdge) Kind() OpKind { return OpCreateEdge }
func (CreateEdge) Class() Class { return ClassWrite }
func (CreateEdge) operation()   {}

// DeleteEdge removes an edge by ID.
type DeleteEdge struct {
	ID int64
}

func (DeleteEdge) Kind() OpKind { return OpDeleteEdge }
func (DeleteEdge) Class() Class { return ClassWrite }
func (DeleteEdge) operation()   {}

// PropertyDef declares one property of a node or edge type.
type PropertyDef struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Kind     string `mapstructure:"kind" yaml:"kind"`
	Required bool   `mapstructure:"required" yaml:"required,omitempty"`
}

// DefineNodeType declares a node type. PrimaryKey, if set, names a required
// property whose value is unique among nodes of the type.
type DefineNodeType struct {
	Name       string
	Properties []PropertyDef
	PrimaryKey string
}

func (DefineNodeType) Kind() OpKind { return OpDefineNodeType }
func (DefineNodeType) Class() Class { return ClassWrite }
func (DefineNodeType) operation()   {}

// DefineEdgeType declares an edge type between two node types.
type DefineEdgeType struct {
	Name       string
	From       string
	To         string
	Properties []PropertyDef
}

func (DefineEdgeType) Kind() OpKind { return OpDefineEdgeType }
func (DefineEdgeType) Class() Class { return ClassWrite }
func (DefineEdgeType) operation()   {}

// GetNode fetches a single node. A missing node yields zero rows.
type GetNode struct {
	Node NodeRef
}

func (GetNode) Kind() OpKind { return OpGetNode }
func (GetNode) Class() Class { return ClassRead }
func (GetNode) operation()   {}

// MatchNodes scans nodes of Type filtered by Where, ordered by ID.
// Limit <= 0 means no limit.
type MatchNodes struct {
	Type  string
	Where Predicate
	Limit int
}

func (MatchNodes) Kind() OpKind { return OpMatchNodes }
func (MatchNodes) Class() Class { return ClassRead }
func (MatchNodes) operation()   {}

// Traverse walks the graph breadth-first from Start following edges of
// EdgeType (any type when empty) in Direction, up to MaxDepth levels.
// Each reachable node is reported once, at its shortest depth.
type Traverse struct {
	Start     NodeRef
	EdgeType  string
	Direction Direction
	MaxDepth  int
	Limit     int
}

func (Traverse) Kind() OpKind { return OpTraverse }
func (Traverse) Class() Class { return ClassRead }
func (Traverse) operation()   {}

// Count reports node and edge counts per type, optionally for one type.
type Count struct {
	Type string
}

func (Count) Kind() OpKind { return OpCount }
func (Count) Class() Class { return ClassRead }
func (Count) operation()   {}

// Begin opens an explicit transaction on the session. A zero Mode uses
// the session's mode.
type Begin struct {
	Mode Mode
}

func (Begin) Kind() OpKind { return OpBegin }
func (Begin) Class() Class { return ClassControl }
func (Begin) operation()   {}

// Commit commits the session's explicit transaction.
type Commit struct{}

func (Commit) Kind() OpKind { return OpCommit }
func (Commit) Class() Class { return ClassControl }
func (Commit) operation()   {}

// Rollback aborts the session's explicit transaction.
type Rollback struct{}

func (Rollback) Kind() OpKind { return OpRollback }
func (Rollback) Class() Class { return ClassControl }
func (Rollback) operation()   {}
