// Package lifecycle owns graphd's data directory.
//
// A Manager holds an exclusive flock on <dir>/graphd.lock for as long as the
// store is open, so at most one process serves a directory. Alongside the
// lock it keeps an owner marker, <dir>/graphd.owner, rewritten atomically at
// open and at clean shutdown. A marker left with clean=false means the last
// owner died; the next Open then verifies the engine files before serving.
//
// Directory layout:
//
//	graph.db, graph.db-wal, graph.db-shm   engine files (internal/store)
//	graphd.lock                            flock target, never deleted
//	graphd.owner                           owner marker (JSON)
//
// All engine access goes through Handle.Acquire, which fails once Close has
// begun.
package lifecycle
