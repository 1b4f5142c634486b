// Package graph provides the logical graph model shared by every graphd layer.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import graph; graph imports nothing internal. This keeps
// the model the foundational layer with no circular dependencies.
//
// Contents:
//   - Value: sealed property value types (Null, String, Int, Float, Bool, Timestamp)
//   - Props: property maps with deterministic key order and JSON encoding
//   - Node, Edge, NodeRef, Row: entities and result rows
//   - Operation: the sealed set of logical operations a client may submit
//   - Predicate: match filters for match_nodes
//
// Property maps are stored as deterministic JSON: keys sorted by UTF-16 code
// units, strings NFC-normalized, no HTML escaping. Identical property maps
// always encode to identical bytes.
package graph
