// Package harness runs YAML operation scripts against the graphd core and
// records what happened as a deterministic trace.
//
// Scripts drive sessions and operations exactly as a client would, through
// the public submit API, so the trace reflects real admission, transaction
// and executor behavior. Traces render session aliases instead of generated
// IDs, which makes them suitable for golden file comparison.
//
// # Script Format
//
//	name: social
//	description: "Two people who know each other"
//	schema: social.cue            # optional, relative to the script
//	steps:
//	  - open: alice               # open a session under an alias
//	    mode: write
//	  - session: alice
//	    op: begin
//	  - session: alice
//	    op: create_node
//	    payload: {type: Person, props: {name: ada}}
//	    expect: {affected: 1}
//	  - op: count                 # no session: anonymous autocommit
//	    expect: {rows: 1}
//	  - op: get_node
//	    payload: {node: 404}
//	    expect: {error: NOT_FOUND}
//	  - close: alice
//	assertions:
//	  - type: count
//	    of: Person
//	    count: 1
//	  - type: trace_count
//	    op: create_node
//	    count: 1
//
// # Assertion Types
//
//   - count: the stored node or edge count of a type after the script ran
//   - trace_count: how many steps ran the given operation
//   - trace_order: the given operations appear in the trace in this order
//   - failures: how many steps failed, whether expected or not
package harness
