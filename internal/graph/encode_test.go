package graph

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalProps(t *testing.T) {
	tests := []struct {
		name     string
		input    Props
		expected string
	}{
		{"empty", Props{}, "{}"},
		{"nil", nil, "{}"},
		{"sorted", Props{"z": Int(1), "a": Int(2)}, `{"a":2,"z":1}`},
		{"float keeps fraction", Props{"f": Float(3)}, `{"f":3.0}`},
		{"float exponent", Props{"f": Float(1e21)}, `{"f":1e+21}`},
		{"bool", Props{"b": Bool(false)}, `{"b":false}`},
		{"null omitted", Props{"a": Null{}, "b": Int(1)}, `{"b":1}`},
		{"no html escape", Props{"s": String("<a&b>")}, `{"s":"<a&b>"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalProps(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestMarshalPropsNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9
	data, err := MarshalProps(Props{"k": String("e\u0301")})
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"\u00e9\"}", string(data))
}

func TestMarshalPropsRejectsNonFinite(t *testing.T) {
	_, err := MarshalProps(Props{"f": Float(math.NaN())})
	assert.Error(t, err)

	_, err = MarshalProps(Props{"f": Float(math.Inf(1))})
	assert.Error(t, err)
}

func TestPropsRoundTripKeepsNumberKinds(t *testing.T) {
	in := Props{"i": Int(3), "f": Float(3), "s": String("x"), "b": Bool(true)}

	data, err := MarshalProps(in)
	require.NoError(t, err)

	out, err := UnmarshalProps(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalPropsTimestampComesBackAsString(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	data, err := MarshalProps(Props{"at": ts})
	require.NoError(t, err)

	out, err := UnmarshalProps(data)
	require.NoError(t, err)
	assert.Equal(t, String("2024-01-01T00:00:00.000000000Z"), out["at"])
}

func TestUnmarshalPropsEmpty(t *testing.T) {
	out, err := UnmarshalProps(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = UnmarshalProps([]byte("{"))
	assert.Error(t, err)
}

func TestEncodeKey(t *testing.T) {
	s, err := EncodeKey(String("1"))
	require.NoError(t, err)
	i, err := EncodeKey(Int(1))
	require.NoError(t, err)

	assert.Equal(t, "s:1", s)
	assert.Equal(t, "i:1", i)
	assert.NotEqual(t, s, i)

	_, err = EncodeKey(Float(1))
	assert.Error(t, err)

	_, err = EncodeKey(Null{})
	assert.Error(t, err)
}
