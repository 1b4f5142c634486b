// Package store is the embedded graph engine: a SQLite database holding
// nodes, edges and the persisted type catalog.
//
// Nothing outside this package talks to SQLite. The executor drives the
// engine through Tx values obtained from BeginWrite and BeginRead; the
// lifecycle manager uses the maintenance calls (IntegrityCheck, Checkpoint).
//
// # Concurrency
//
// Two connection pools share the database file:
//   - writer: one connection, transactions start with BEGIN IMMEDIATE
//   - readers: many connections, deferred transactions
//
// A read transaction pins its WAL snapshot when it begins (BeginRead issues
// a first read immediately), so commits that happen later are invisible to
// it. Admission of writers is decided above this package; the writer pool
// only guarantees that two write transactions never share a connection.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes, crash recovery by replay
//   - synchronous=NORMAL: committed transactions survive process crashes
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: edges always reference existing nodes
//
// Property maps are stored as deterministic JSON (graph.MarshalProps) and
// filtered with json_extract.
package store
