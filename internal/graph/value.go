package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// TimestampLayout is the fixed-width UTC layout used to store timestamps.
// Fixed width keeps lexical order equal to chronological order in the engine.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Value is a sealed interface representing property value types.
// Only Null, String, Int, Float, Bool and Timestamp implement it.
type Value interface {
	graphValue() // Sealed - only these types implement it
}

// Null represents an absent property value.
type Null struct{}

func (Null) graphValue() {}

// String is a text property value.
type String string

func (String) graphValue() {}

// Int is an integer property value.
type Int int64

func (Int) graphValue() {}

// Float is a double-precision property value. NaN and infinities are rejected
// at encoding time.
type Float float64

func (Float) graphValue() {}

// Bool is a boolean property value.
type Bool bool

func (Bool) graphValue() {}

// Timestamp is a point-in-time property value, always held in UTC.
type Timestamp struct {
	time.Time
}

func (Timestamp) graphValue() {}

// NewTimestamp creates a Timestamp normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// String formats the timestamp in TimestampLayout.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses TimestampLayout, RFC 3339 and date-only strings.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// KindName returns the property kind name of a value as used by schemas:
// STRING, INT, DOUBLE, BOOL, TIMESTAMP, or NULL.
func KindName(v Value) string {
	switch v.(type) {
	case String:
		return "STRING"
	case Int:
		return "INT"
	case Float:
		return "DOUBLE"
	case Bool:
		return "BOOL"
	case Timestamp:
		return "TIMESTAMP"
	case Null, nil:
		return "NULL"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Equal reports whether two values are the same kind and value.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Timestamp:
		bv, ok := b.(Timestamp)
		return ok && av.Equal(bv.Time)
	case Null:
		_, ok := b.(Null)
		return ok || b == nil
	case nil:
		_, ok := b.(Null)
		return ok || b == nil
	default:
		return a == b
	}
}

// FormatValue renders a value for logs and CLI output.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case String:
		return strconv.Quote(string(val))
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return formatFloat(float64(val))
	case Bool:
		return strconv.FormatBool(bool(val))
	case Timestamp:
		return val.String()
	case Null, nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FromAny converts a loosely typed Go value (decoded from YAML or JSON) into a
// Value. json.Number values keep their integer/float distinction; float64
// values stay Float and are narrowed later by schema coercion if needed.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			f, err := val.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", s, err)
			}
			return Float(f), nil
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case time.Time:
		return NewTimestamp(val), nil
	default:
		return nil, fmt.Errorf("unsupported property value type: %T", v)
	}
}

// ToAny converts a Value to a plain Go value suitable for JSON output.
func ToAny(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Timestamp:
		return val.String()
	default:
		return nil
	}
}

// Props maps property names to values.
// Use SortedKeys() for deterministic iteration.
type Props map[string]Value

// PropsFromMap converts a loosely typed map into Props.
func PropsFromMap(m map[string]any) (Props, error) {
	props := make(Props, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}

// SortedKeys returns keys ordered by UTF-16 code units.
// Go's sort.Strings uses UTF-8 byte order, which differs for some inputs.
func (p Props) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// Clone returns a shallow copy. Values are immutable so a shallow copy is
// independent of the original.
func (p Props) Clone() Props {
	if p == nil {
		return Props{}
	}
	c := make(Props, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Merge returns a copy of p with the entries of update applied.
// A Null value in update removes the key.
func (p Props) Merge(update Props) Props {
	merged := p.Clone()
	for k, v := range update {
		if _, isNull := v.(Null); isNull || v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// ToMap converts Props into a plain map for JSON/YAML output.
func (p Props) ToMap() map[string]any {
	m := make(map[string]any, len(p))
	for k, v := range p {
		m[k] = ToAny(v)
	}
	return m
}

// MarshalJSON renders props as a plain JSON object for output.
// Storage uses MarshalProps instead.
func (p Props) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToMap())
}

// compareKeysUTF16 compares strings by UTF-16 code units.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// formatFloat renders a float so that it always reads back as a float:
// integral values keep a trailing ".0".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
