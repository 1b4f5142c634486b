package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/graph"
)

func eventType() NodeType {
	return NodeType{
		Name: "Event",
		Properties: []Property{
			{Name: "id", Kind: KindInt, Required: true},
			{Name: "title", Kind: KindString},
			{Name: "score", Kind: KindDouble},
			{Name: "at", Kind: KindTimestamp},
			{Name: "open", Kind: KindBool},
		},
		PrimaryKey: "id",
	}
}

func TestCoerceNode(t *testing.T) {
	props, err := CoerceNode(eventType(), graph.Props{
		"id":    graph.Float(7),
		"score": graph.Int(3),
		"at":    graph.String("2024-03-01T10:00:00Z"),
		"open":  graph.Bool(true),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, graph.Int(7), props["id"])
	assert.Equal(t, graph.Float(3), props["score"])
	assert.Equal(t, graph.NewTimestamp(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)), props["at"])
}

func TestCoerceNodeViolations(t *testing.T) {
	tests := []struct {
		name    string
		props   graph.Props
		partial bool
		want    string
	}{
		{"unknown property", graph.Props{"id": graph.Int(1), "color": graph.String("red")}, false, "Event.color: unknown property"},
		{"missing required", graph.Props{"title": graph.String("x")}, false, "Event.id: required property missing"},
		{"null required", graph.Props{"id": graph.Null{}}, true, "required property cannot be null"},
		{"wrong kind", graph.Props{"id": graph.Int(1), "title": graph.Int(2)}, false, "expected STRING, got INT"},
		{"fractional int", graph.Props{"id": graph.Float(1.5)}, false, "expected INT, got DOUBLE"},
		{"bad timestamp", graph.Props{"id": graph.Int(1), "at": graph.String("soon")}, false, "invalid timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CoerceNode(eventType(), tt.props, tt.partial)
			require.Error(t, err)
			assert.True(t, IsViolation(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCoerceNodePartialAllowsMissingRequired(t *testing.T) {
	props, err := CoerceNode(eventType(), graph.Props{"title": graph.Null{}}, true)
	require.NoError(t, err)
	assert.Equal(t, graph.Props{"title": graph.Null{}}, props)
}

func TestRestore(t *testing.T) {
	stored := graph.Props{
		"at":    graph.String("2024-03-01T10:00:00.000000000Z"),
		"score": graph.Int(2),
		"extra": graph.String("kept"),
	}
	got := Restore(eventType().Properties, stored)

	assert.IsType(t, graph.Timestamp{}, got["at"])
	assert.Equal(t, graph.Float(2), got["score"])
	assert.Equal(t, graph.String("kept"), got["extra"])
}
