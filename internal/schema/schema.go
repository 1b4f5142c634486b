package schema

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/graphd/internal/graph"
)

// Kind is a property kind.
type Kind string

const (
	KindString    Kind = "STRING"
	KindInt       Kind = "INT"
	KindDouble    Kind = "DOUBLE"
	KindBool      Kind = "BOOL"
	KindTimestamp Kind = "TIMESTAMP"
)

// ParseKind parses a kind name. Common SQL spellings are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRING", "TEXT", "VARCHAR":
		return KindString, nil
	case "INT", "INTEGER", "INT64", "BIGINT":
		return KindInt, nil
	case "DOUBLE", "FLOAT", "REAL":
		return KindDouble, nil
	case "BOOL", "BOOLEAN":
		return KindBool, nil
	case "TIMESTAMP", "DATETIME":
		return KindTimestamp, nil
	default:
		return "", fmt.Errorf("unknown property kind %q", s)
	}
}

// Property declares one property of a node or edge type.
type Property struct {
	Name     string `json:"name" yaml:"name"`
	Kind     Kind   `json:"kind" yaml:"kind"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// NodeType declares a node label with its properties. PrimaryKey, when set,
// names a required property unique among nodes of this type.
type NodeType struct {
	Name       string     `json:"name" yaml:"name"`
	Properties []Property `json:"properties" yaml:"properties"`
	PrimaryKey string     `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// Property returns the named property declaration.
func (t NodeType) Property(name string) (Property, bool) {
	return findProperty(t.Properties, name)
}

// EdgeType declares a directed relationship type between two node types.
type EdgeType struct {
	Name       string     `json:"name" yaml:"name"`
	From       string     `json:"from" yaml:"from"`
	To         string     `json:"to" yaml:"to"`
	Properties []Property `json:"properties" yaml:"properties"`
}

// Property returns the named property declaration.
func (t EdgeType) Property(name string) (Property, bool) {
	return findProperty(t.Properties, name)
}

func findProperty(props []Property, name string) (Property, bool) {
	for _, p := range props {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Schema is an immutable set of node and edge types. Mutating methods are
// only used on clones owned by a Stage or by the compiler.
type Schema struct {
	nodes map[string]NodeType
	edges map[string]EdgeType
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{
		nodes: make(map[string]NodeType),
		edges: make(map[string]EdgeType),
	}
}

// Node returns the node type with the given name.
func (s *Schema) Node(name string) (NodeType, bool) {
	t, ok := s.nodes[name]
	return t, ok
}

// Edge returns the edge type with the given name.
func (s *Schema) Edge(name string) (EdgeType, bool) {
	t, ok := s.edges[name]
	return t, ok
}

// NodeTypes returns node types sorted by name.
func (s *Schema) NodeTypes() []NodeType {
	out := make([]NodeType, 0, len(s.nodes))
	for _, t := range s.nodes {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b NodeType) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// EdgeTypes returns edge types sorted by name.
func (s *Schema) EdgeTypes() []EdgeType {
	out := make([]EdgeType, 0, len(s.edges))
	for _, t := range s.edges {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b EdgeType) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Clone returns a copy that can be modified independently.
func (s *Schema) Clone() *Schema {
	c := New()
	for k, v := range s.nodes {
		c.nodes[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	return c
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefineNode adds a node type. Defining an identical type again is a no-op
// and reports changed=false; a different definition under an existing name
// is a violation.
func (s *Schema) DefineNode(t NodeType) (changed bool, err error) {
	t = normalizeNode(t)
	if err := validateNodeType(t); err != nil {
		return false, err
	}
	if _, clash := s.edges[t.Name]; clash {
		return false, violationf(t.Name, "", "name already used by an edge type")
	}
	if existing, ok := s.nodes[t.Name]; ok {
		if sameNode(existing, t) {
			return false, nil
		}
		return false, violationf(t.Name, "", "conflicting redefinition of node type")
	}
	s.nodes[t.Name] = t
	return true, nil
}

// DefineEdge adds an edge type. Both endpoint node types must exist.
func (s *Schema) DefineEdge(t EdgeType) (changed bool, err error) {
	t = normalizeEdge(t)
	if err := validateProperties(t.Name, t.Properties); err != nil {
		return false, err
	}
	if _, ok := s.nodes[t.From]; !ok {
		return false, violationf(t.Name, "", "unknown source node type %q", t.From)
	}
	if _, ok := s.nodes[t.To]; !ok {
		return false, violationf(t.Name, "", "unknown target node type %q", t.To)
	}
	if _, clash := s.nodes[t.Name]; clash {
		return false, violationf(t.Name, "", "name already used by a node type")
	}
	if existing, ok := s.edges[t.Name]; ok {
		if sameEdge(existing, t) {
			return false, nil
		}
		return false, violationf(t.Name, "", "conflicting redefinition of edge type")
	}
	s.edges[t.Name] = t
	return true, nil
}

func normalizeNode(t NodeType) NodeType {
	t.Properties = sortedProps(t.Properties)
	for i, p := range t.Properties {
		if p.Name == t.PrimaryKey {
			t.Properties[i].Required = true
		}
	}
	return t
}

func normalizeEdge(t EdgeType) EdgeType {
	t.Properties = sortedProps(t.Properties)
	return t
}

func sortedProps(props []Property) []Property {
	out := slices.Clone(props)
	slices.SortFunc(out, func(a, b Property) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func validateNodeType(t NodeType) error {
	if err := validateProperties(t.Name, t.Properties); err != nil {
		return err
	}
	if t.PrimaryKey == "" {
		return nil
	}
	pk, ok := t.Property(t.PrimaryKey)
	if !ok {
		return violationf(t.Name, t.PrimaryKey, "primary key is not a declared property")
	}
	if pk.Kind == KindDouble {
		return violationf(t.Name, t.PrimaryKey, "DOUBLE properties cannot be primary keys")
	}
	return nil
}

func validateProperties(typeName string, props []Property) error {
	if !identRe.MatchString(typeName) {
		return violationf(typeName, "", "invalid type name")
	}
	seen := make(map[string]bool, len(props))
	for _, p := range props {
		if !identRe.MatchString(p.Name) {
			return violationf(typeName, p.Name, "invalid property name")
		}
		if seen[p.Name] {
			return violationf(typeName, p.Name, "duplicate property")
		}
		seen[p.Name] = true
		if k, err := ParseKind(string(p.Kind)); err != nil || k != p.Kind {
			return violationf(typeName, p.Name, "invalid kind %q", p.Kind)
		}
	}
	return nil
}

func sameNode(a, b NodeType) bool {
	return a.Name == b.Name && a.PrimaryKey == b.PrimaryKey && slices.Equal(a.Properties, b.Properties)
}

func sameEdge(a, b EdgeType) bool {
	return a.Name == b.Name && a.From == b.From && a.To == b.To && slices.Equal(a.Properties, b.Properties)
}

// FromDefinition converts operation payload definitions into properties.
func FromDefinition(defs []graph.PropertyDef) ([]Property, error) {
	props := make([]Property, 0, len(defs))
	for _, d := range defs {
		kind, err := ParseKind(d.Kind)
		if err != nil {
			return nil, violationf("", d.Name, "property %q: %v", d.Name, err)
		}
		props = append(props, Property{Name: d.Name, Kind: kind, Required: d.Required})
	}
	return props, nil
}
