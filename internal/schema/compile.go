package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileFile reads and compiles a CUE schema file.
func CompileFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return CompileBytes(data, path)
}

// CompileBytes compiles CUE source into a Schema. filename is used in error
// positions only.
func CompileBytes(src []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile builds a Schema from a CUE value with top-level "node" and "edge"
// structs. Node types are defined before edge types so edges may reference
// any node type in the file.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := New()

	nodesVal := v.LookupPath(cue.ParsePath("node"))
	if nodesVal.Exists() {
		iter, err := nodesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			nt, err := compileNode(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			if _, err := s.DefineNode(nt); err != nil {
				return nil, &CompileError{Field: "node." + iter.Label(), Message: err.Error(), Pos: iter.Value().Pos()}
			}
		}
	}

	edgesVal := v.LookupPath(cue.ParsePath("edge"))
	if edgesVal.Exists() {
		iter, err := edgesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			et, err := compileEdge(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			if _, err := s.DefineEdge(et); err != nil {
				return nil, &CompileError{Field: "edge." + iter.Label(), Message: err.Error(), Pos: iter.Value().Pos()}
			}
		}
	}

	return s, nil
}

func compileNode(name string, v cue.Value) (NodeType, error) {
	nt := NodeType{Name: name}

	keyVal := v.LookupPath(cue.ParsePath("key"))
	if keyVal.Exists() {
		key, err := keyVal.String()
		if err != nil {
			return nt, formatCUEError(err)
		}
		nt.PrimaryKey = key
	}

	props, err := compileProperties("node."+name, v)
	if err != nil {
		return nt, err
	}
	nt.Properties = props
	return nt, nil
}

func compileEdge(name string, v cue.Value) (EdgeType, error) {
	et := EdgeType{Name: name}

	for _, f := range []struct {
		label string
		dst   *string
	}{{"from", &et.From}, {"to", &et.To}} {
		fv := v.LookupPath(cue.ParsePath(f.label))
		if !fv.Exists() {
			return et, &CompileError{
				Field:   fmt.Sprintf("edge.%s.%s", name, f.label),
				Message: f.label + " is required",
				Pos:     v.Pos(),
			}
		}
		s, err := fv.String()
		if err != nil {
			return et, formatCUEError(err)
		}
		*f.dst = s
	}

	props, err := compileProperties("edge."+name, v)
	if err != nil {
		return et, err
	}
	et.Properties = props
	return et, nil
}

func compileProperties(path string, v cue.Value) ([]Property, error) {
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, nil
	}

	iter, err := propsVal.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}

	var props []Property
	for iter.Next() {
		kind, err := extractKind(iter.Value())
		if err != nil {
			return nil, &CompileError{
				Field:   path + ".properties." + iter.Selector().Unquoted(),
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		props = append(props, Property{
			Name:     iter.Selector().Unquoted(),
			Kind:     kind,
			Required: !iter.IsOptional(),
		})
	}
	return props, nil
}

// extractKind maps a CUE type to a property kind. A concrete string names
// the kind directly.
func extractKind(v cue.Value) (Kind, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		if v.IsConcrete() {
			s, err := v.String()
			if err != nil {
				return "", err
			}
			return ParseKind(s)
		}
		return KindString, nil
	case cue.IntKind:
		return KindInt, nil
	case cue.FloatKind, cue.NumberKind:
		return KindDouble, nil
	case cue.BoolKind:
		return KindBool, nil
	default:
		return "", fmt.Errorf("unsupported type kind: %v", v.IncompleteKind())
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
