// Package querysql compiles match predicates to parameterized SQLite
// conditions over a JSON property column.
package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/graphd/internal/graph"
)

// DefaultColumn is the property column of the nodes table.
const DefaultColumn = "props"

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCompiler compiles graph predicates to SQL WHERE fragments.
//
// All values are parameterized, never interpolated. Property paths are
// passed as parameters too; field names are still restricted to identifiers.
type SQLCompiler struct {
	// Column is the JSON column predicates read from.
	Column string
}

// NewSQLCompiler creates a compiler reading from DefaultColumn.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Column: DefaultColumn}
}

// Compile converts a predicate to a SQL fragment and its parameters.
// A nil predicate compiles to an empty fragment (no filter).
//
// A property that is absent on a node compares as SQL NULL, so it never
// satisfies any predicate, including ne.
func (c *SQLCompiler) Compile(p graph.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	return c.compilePredicate(p)
}

func (c *SQLCompiler) compilePredicate(p graph.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case graph.Equals:
		return c.compileComparison(pred.Field, "=", pred.Value)
	case graph.Compare:
		op, err := sqlOperator(pred.Op)
		if err != nil {
			return "", nil, err
		}
		return c.compileComparison(pred.Field, op, pred.Value)
	case graph.And:
		return c.compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileComparison(field, op string, v graph.Value) (string, []any, error) {
	if !fieldRe.MatchString(field) {
		return "", nil, fmt.Errorf("invalid field name %q", field)
	}
	param, err := valueToParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", field, err)
	}
	sql := fmt.Sprintf("json_extract(%s, ?) %s ?", c.column(), op)
	return sql, []any{"$." + field, param}, nil
}

// compileAnd compiles an And predicate to a conjunction.
func (c *SQLCompiler) compileAnd(and graph.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // vacuous truth
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return strings.Join(sqlParts, " AND "), allParams, nil
}

func (c *SQLCompiler) column() string {
	if c.Column == "" {
		return DefaultColumn
	}
	return c.Column
}

func sqlOperator(op graph.CompareOp) (string, error) {
	switch op {
	case graph.OpLess:
		return "<", nil
	case graph.OpLessEqual:
		return "<=", nil
	case graph.OpGreater:
		return ">", nil
	case graph.OpGreaterEqual:
		return ">=", nil
	case graph.OpNotEqual:
		return "<>", nil
	default:
		return "", fmt.Errorf("unknown operator %q", op)
	}
}

// valueToParam converts a graph value to a SQL parameter matching what
// json_extract yields for the stored encoding.
func valueToParam(v graph.Value) (any, error) {
	switch val := v.(type) {
	case graph.String:
		return string(val), nil
	case graph.Int:
		return int64(val), nil
	case graph.Float:
		return float64(val), nil
	case graph.Bool:
		// json_extract returns 1 or 0 for JSON booleans
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case graph.Timestamp:
		// Stored as fixed-width strings, so text order is time order
		return val.String(), nil
	case graph.Null, nil:
		return nil, fmt.Errorf("null cannot be compared")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
