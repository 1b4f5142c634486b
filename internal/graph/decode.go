package graph

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// DecodeOperation builds a typed Operation from a loosely typed payload, as
// produced by YAML scripts or a JSON request body.
//
// Node references accept either an integer ID or a map with "id", or with
// "type" and "key". Predicates accept either a map of property equalities or
// a list of {field, op, value} terms, combined with And.
func DecodeOperation(kind OpKind, payload map[string]any) (Operation, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	switch kind {
	case OpCreateNode:
		var raw struct {
			Type  string         `mapstructure:"type"`
			Props map[string]any `mapstructure:"props"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		props, err := PropsFromMap(raw.Props)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return CreateNode{Type: raw.Type, Props: props}, nil

	case OpUpdateNode:
		var raw struct {
			Node  any            `mapstructure:"node"`
			Props map[string]any `mapstructure:"props"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		ref, err := decodeRef(raw.Node)
		if err != nil {
			return nil, fmt.Errorf("%s: node: %w", kind, err)
		}
		props, err := PropsFromMap(raw.Props)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return UpdateNode{Node: ref, Props: props}, nil

	case OpDeleteNode:
		var raw struct {
			Node   any  `mapstructure:"node"`
			Detach bool `mapstructure:"detach"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		ref, err := decodeRef(raw.Node)
		if err != nil {
			return nil, fmt.Errorf("%s: node: %w", kind, err)
		}
		return DeleteNode{Node: ref, Detach: raw.Detach}, nil

	case OpCreateEdge:
		var raw struct {
			Type  string         `mapstructure:"type"`
			From  any            `mapstructure:"from"`
			To    any            `mapstructure:"to"`
			Props map[string]any `mapstructure:"props"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		from, err := decodeRef(raw.From)
		if err != nil {
			return nil, fmt.Errorf("%s: from: %w", kind, err)
		}
		to, err := decodeRef(raw.To)
		if err != nil {
			return nil, fmt.Errorf("%s: to: %w", kind, err)
		}
		props, err := PropsFromMap(raw.Props)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return CreateEdge{Type: raw.Type, From: from, To: to, Props: props}, nil

	case OpDeleteEdge:
		var raw struct {
			ID int64 `mapstructure:"id"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return DeleteEdge{ID: raw.ID}, nil

	case OpDefineNodeType:
		var raw struct {
			Name       string        `mapstructure:"name"`
			Properties []PropertyDef `mapstructure:"properties"`
			PrimaryKey string        `mapstructure:"primary_key"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return DefineNodeType{Name: raw.Name, Properties: raw.Properties, PrimaryKey: raw.PrimaryKey}, nil

	case OpDefineEdgeType:
		var raw struct {
			Name       string        `mapstructure:"name"`
			From       string        `mapstructure:"from"`
			To         string        `mapstructure:"to"`
			Properties []PropertyDef `mapstructure:"properties"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return DefineEdgeType{Name: raw.Name, From: raw.From, To: raw.To, Properties: raw.Properties}, nil

	case OpGetNode:
		var raw struct {
			Node any `mapstructure:"node"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		ref, err := decodeRef(raw.Node)
		if err != nil {
			return nil, fmt.Errorf("%s: node: %w", kind, err)
		}
		return GetNode{Node: ref}, nil

	case OpMatchNodes:
		var raw struct {
			Type  string `mapstructure:"type"`
			Where any    `mapstructure:"where"`
			Limit int    `mapstructure:"limit"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		where, err := decodePredicate(raw.Where)
		if err != nil {
			return nil, fmt.Errorf("%s: where: %w", kind, err)
		}
		return MatchNodes{Type: raw.Type, Where: where, Limit: raw.Limit}, nil

	case OpTraverse:
		var raw struct {
			Start     any    `mapstructure:"start"`
			EdgeType  string `mapstructure:"edge_type"`
			Direction string `mapstructure:"direction"`
			MaxDepth  int    `mapstructure:"max_depth"`
			Limit     int    `mapstructure:"limit"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		start, err := decodeRef(raw.Start)
		if err != nil {
			return nil, fmt.Errorf("%s: start: %w", kind, err)
		}
		dir := Direction(raw.Direction)
		if dir == "" {
			dir = Outgoing
		}
		return Traverse{Start: start, EdgeType: raw.EdgeType, Direction: dir, MaxDepth: raw.MaxDepth, Limit: raw.Limit}, nil

	case OpCount:
		var raw struct {
			Type string `mapstructure:"type"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return Count{Type: raw.Type}, nil

	case OpBegin:
		var raw struct {
			Mode string `mapstructure:"mode"`
		}
		if err := decodeStrict(payload, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		if raw.Mode == "" {
			return Begin{}, nil
		}
		mode, err := ParseMode(raw.Mode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return Begin{Mode: mode}, nil

	case OpCommit:
		return Commit{}, nil

	case OpRollback:
		return Rollback{}, nil

	default:
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
}

// decodeStrict decodes input into out and rejects unknown payload keys.
func decodeStrict(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func decodeRef(v any) (NodeRef, error) {
	switch val := v.(type) {
	case nil:
		return NodeRef{}, fmt.Errorf("missing node reference")
	case map[string]any:
		var raw struct {
			ID   int64  `mapstructure:"id"`
			Type string `mapstructure:"type"`
			Key  any    `mapstructure:"key"`
		}
		if err := decodeStrict(val, &raw); err != nil {
			return NodeRef{}, err
		}
		if raw.ID != 0 {
			if raw.Type != "" || raw.Key != nil {
				return NodeRef{}, fmt.Errorf("reference has both id and key")
			}
			return ByID(raw.ID), nil
		}
		if raw.Type == "" || raw.Key == nil {
			return NodeRef{}, fmt.Errorf("key reference needs type and key")
		}
		key, err := FromAny(raw.Key)
		if err != nil {
			return NodeRef{}, err
		}
		return ByKey(raw.Type, key), nil
	default:
		var id int64
		if err := mapstructure.Decode(v, &id); err != nil {
			return NodeRef{}, fmt.Errorf("invalid node reference %v: %w", v, err)
		}
		if id <= 0 {
			return NodeRef{}, fmt.Errorf("invalid node id %d", id)
		}
		return ByID(id), nil
	}
}

func decodePredicate(v any) (Predicate, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		fields := make([]string, 0, len(val))
		for f := range val {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		preds := make([]Predicate, 0, len(fields))
		for _, f := range fields {
			value, err := FromAny(val[f])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			preds = append(preds, Equals{Field: f, Value: value})
		}
		return And{Predicates: preds}, nil
	case []any:
		preds := make([]Predicate, 0, len(val))
		for i, item := range val {
			var term struct {
				Field string `mapstructure:"field"`
				Op    string `mapstructure:"op"`
				Value any    `mapstructure:"value"`
			}
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("[%d]: expected map, got %T", i, item)
			}
			if err := decodeStrict(m, &term); err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			value, err := FromAny(term.Value)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			switch term.Op {
			case "", "eq":
				preds = append(preds, Equals{Field: term.Field, Value: value})
			default:
				preds = append(preds, Compare{Field: term.Field, Op: CompareOp(term.Op), Value: value})
			}
		}
		return And{Predicates: preds}, nil
	default:
		return nil, fmt.Errorf("unsupported predicate form %T", v)
	}
}
