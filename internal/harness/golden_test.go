package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphd/internal/graph"
)

func TestMarshalSnapshot(t *testing.T) {
	result := NewResult()
	result.Trace = append(result.Trace,
		TraceEvent{Step: 1, Op: "create_node", Affected: 1, IDs: []int64{7}},
		TraceEvent{Step: 2, Op: "count", Rows: []graph.Row{{Kind: graph.RowCount, Entity: "node", Type: "Person", Count: 1}}},
	)
	result.AddError("step 3: nope")

	data, err := MarshalSnapshot("tiny", result)
	require.NoError(t, err)
	assert.Equal(t, `{
  "script": "tiny",
  "pass": false,
  "trace": [
    {
      "step": 1,
      "op": "create_node",
      "affected": 1,
      "ids": [
        7
      ]
    },
    {
      "step": 2,
      "op": "count",
      "rows": [
        {
          "kind": "count",
          "entity": "node",
          "type": "Person",
          "count": 1
        }
      ]
    }
  ],
  "errors": [
    "step 3: nope"
  ]
}
`, string(data))
}
