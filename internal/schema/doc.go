// Package schema holds the graph schema: node types, edge types and their
// property declarations.
//
// Schemas are written in CUE and compiled with the CUE Go SDK, or built up at
// runtime through define_node_type and define_edge_type operations. The
// Registry publishes the committed schema to readers and lets a write
// transaction stage definitions that only become visible once it commits.
//
// A schema file looks like:
//
//	node: Person: {
//		key: "id"
//		properties: {
//			id:     int
//			name:   string
//			score?: float
//			born?:  "TIMESTAMP"
//		}
//	}
//
//	edge: KNOWS: {
//		from: "Person"
//		to:   "Person"
//		properties: since?: int
//	}
//
// Optional fields (name?:) declare optional properties. A concrete string
// value names a kind directly, which is how TIMESTAMP properties are declared.
package schema
