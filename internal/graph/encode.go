package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalProps produces the deterministic JSON encoding of a property map.
//
// Differences from json.Marshal:
//  1. Keys sorted by UTF-16 code units
//  2. No HTML escaping (< > & are kept literally)
//  3. Strings (keys and values) are NFC normalized
//  4. Floats always carry a fraction or exponent so they decode as Float
//  5. Timestamps encode as strings in TimestampLayout
//  6. Null values are omitted (absent and null are the same property state)
//
// NaN and infinities are rejected.
func MarshalProps(p Props) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	for _, k := range p.SortedKeys() {
		v := p[k]
		if _, isNull := v.(Null); isNull || v == nil {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		keyBytes, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalValue encodes a single value.
func marshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return marshalString(string(val))
	case Int:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite float %v", f)
		}
		return []byte(formatFloat(f)), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Timestamp:
		return marshalString(val.String())
	case Null:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// marshalString produces a JSON string with NFC normalization and no HTML escaping.
func marshalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalProps decodes a property map produced by MarshalProps.
//
// Numbers with a fraction or exponent decode as Float, others as Int.
// Timestamps come back as String; schema-aware callers restore them with
// Props kinds (see schema.Restore).
func UnmarshalProps(data []byte) (Props, error) {
	if len(data) == 0 {
		return Props{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal props: %w", err)
	}

	props := make(Props, len(raw))
	for k, rv := range raw {
		v, err := FromAny(rv)
		if err != nil {
			return nil, fmt.Errorf("unmarshal props: key %q: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}

// EncodeKey renders a primary-key value as the text stored in the engine's
// key column. Keys of different kinds never collide because the kind is part
// of the encoding.
func EncodeKey(v Value) (string, error) {
	switch val := v.(type) {
	case String:
		return "s:" + norm.NFC.String(string(val)), nil
	case Int:
		return "i:" + strconv.FormatInt(int64(val), 10), nil
	case Timestamp:
		return "t:" + val.String(), nil
	case Bool:
		return "b:" + strconv.FormatBool(bool(val)), nil
	case Float:
		return "", fmt.Errorf("DOUBLE values cannot be primary keys")
	default:
		return "", fmt.Errorf("unsupported primary key type %T", v)
	}
}
