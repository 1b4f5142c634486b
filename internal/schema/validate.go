package schema

import (
	"math"

	"github.com/roach88/graphd/internal/graph"
)

// CoerceNode checks props against a node type and returns them converted to
// the declared kinds. With partial set (update_node), required properties
// may be absent but may not be removed with a null.
func CoerceNode(t NodeType, props graph.Props, partial bool) (graph.Props, error) {
	return coerce(t.Name, t.Properties, props, partial)
}

// CoerceEdge checks props against an edge type.
func CoerceEdge(t EdgeType, props graph.Props) (graph.Props, error) {
	return coerce(t.Name, t.Properties, props, false)
}

func coerce(typeName string, decls []Property, props graph.Props, partial bool) (graph.Props, error) {
	out := make(graph.Props, len(props))
	for _, name := range props.SortedKeys() {
		decl, ok := findProperty(decls, name)
		if !ok {
			return nil, violationf(typeName, name, "unknown property")
		}
		v := props[name]
		if _, isNull := v.(graph.Null); isNull || v == nil {
			if decl.Required {
				return nil, violationf(typeName, name, "required property cannot be null")
			}
			out[name] = graph.Null{}
			continue
		}
		cv, err := CoerceValue(decl.Kind, v)
		if err != nil {
			return nil, violationf(typeName, name, "%v", err)
		}
		out[name] = cv
	}
	if !partial {
		for _, decl := range decls {
			if !decl.Required {
				continue
			}
			if v, ok := out[decl.Name]; !ok || isNull(v) {
				return nil, violationf(typeName, decl.Name, "required property missing")
			}
		}
	}
	return out, nil
}

// CoerceValue converts v to kind where the conversion is lossless:
// integral floats to INT, integers to DOUBLE, strings to TIMESTAMP.
func CoerceValue(kind Kind, v graph.Value) (graph.Value, error) {
	switch kind {
	case KindString:
		if s, ok := v.(graph.String); ok {
			return s, nil
		}
	case KindInt:
		switch val := v.(type) {
		case graph.Int:
			return val, nil
		case graph.Float:
			f := float64(val)
			if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
				return graph.Int(int64(f)), nil
			}
		}
	case KindDouble:
		switch val := v.(type) {
		case graph.Float:
			return val, nil
		case graph.Int:
			return graph.Float(float64(val)), nil
		}
	case KindBool:
		if b, ok := v.(graph.Bool); ok {
			return b, nil
		}
	case KindTimestamp:
		switch val := v.(type) {
		case graph.Timestamp:
			return val, nil
		case graph.String:
			ts, err := graph.ParseTimestamp(string(val))
			if err != nil {
				return nil, err
			}
			return ts, nil
		}
	}
	return nil, &kindMismatch{want: kind, got: graph.KindName(v)}
}

type kindMismatch struct {
	want Kind
	got  string
}

func (e *kindMismatch) Error() string {
	return "expected " + string(e.want) + ", got " + e.got
}

// Restore converts props read back from storage to their declared kinds.
// Stored timestamps decode as strings and are parsed here. Undeclared
// properties are passed through unchanged.
func Restore(decls []Property, props graph.Props) graph.Props {
	for name, v := range props {
		decl, ok := findProperty(decls, name)
		if !ok {
			continue
		}
		if cv, err := CoerceValue(decl.Kind, v); err == nil {
			props[name] = cv
		}
	}
	return props
}

func isNull(v graph.Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(graph.Null)
	return ok
}
