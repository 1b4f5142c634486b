package graph

import (
	"fmt"
	"strings"
)

// Predicate represents a filter condition for match_nodes.
//
// This is a sealed interface - only types in this package implement it.
// The marker method prevents external implementations and enables exhaustive
// type switches in the SQL compiler.
//
// Predicate types:
//   - Equals: property = value
//   - Compare: property <op> value (lt, le, gt, ge, ne)
//   - And: all predicates must hold
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Equals matches nodes whose property Field equals Value.
type Equals struct {
	Field string
	Value Value
}

func (Equals) predicateNode() {}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpLess         CompareOp = "lt"
	OpLessEqual    CompareOp = "le"
	OpGreater      CompareOp = "gt"
	OpGreaterEqual CompareOp = "ge"
	OpNotEqual     CompareOp = "ne"
)

// Valid reports whether op is a known comparison operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpNotEqual:
		return true
	}
	return false
}

// Compare matches nodes whose property Field compares to Value with Op.
type Compare struct {
	Field string
	Op    CompareOp
	Value Value
}

func (Compare) predicateNode() {}

// And matches when every predicate matches. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// PredicateFields returns the property names referenced by p, in order of
// appearance, without duplicates.
func PredicateFields(p Predicate) []string {
	var fields []string
	seen := make(map[string]bool)
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Equals:
			if !seen[pred.Field] {
				seen[pred.Field] = true
				fields = append(fields, pred.Field)
			}
		case Compare:
			if !seen[pred.Field] {
				seen[pred.Field] = true
				fields = append(fields, pred.Field)
			}
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
	}
	walk(p)
	return fields
}

// ValidatePredicate checks structural well-formedness: non-empty field names,
// known operators, non-null values, no nil sub-predicates.
// Schema checks (does the field exist, kind match) happen in the executor.
func ValidatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		if strings.TrimSpace(pred.Field) == "" {
			return fmt.Errorf("equals: empty field name")
		}
		if isNull(pred.Value) {
			return fmt.Errorf("equals %q: null comparison is not supported", pred.Field)
		}
	case Compare:
		if strings.TrimSpace(pred.Field) == "" {
			return fmt.Errorf("compare: empty field name")
		}
		if !pred.Op.Valid() {
			return fmt.Errorf("compare %q: unknown operator %q", pred.Field, pred.Op)
		}
		if isNull(pred.Value) {
			return fmt.Errorf("compare %q: null comparison is not supported", pred.Field)
		}
	case And:
		for i, sub := range pred.Predicates {
			if sub == nil {
				return fmt.Errorf("and[%d]: nil predicate", i)
			}
			if err := ValidatePredicate(sub); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported predicate type %T", p)
	}
	return nil
}

func isNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
