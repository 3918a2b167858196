// Package harness runs sync scenarios against a real engine.
//
// A scenario scripts what the server returns, drives the engine through
// user and environment steps, and asserts on the requests the engine made
// and on what ended up in the store.
//
// # Scenario Format
//
//	name: push_then_fetch
//	description: "A queued chat message is pushed before the fetch"
//	scope: { incident_id: 1, collabroom_id: 7 }
//	served:
//	  chat_messages:
//	    records:
//	      - server_id: 500
//	        payload: { text: "hello" }
//	steps:
//	  - submit: { ref: m1, kind: chat, payload: { text: "on my way" } }
//	  - fire: chat_messages
//	assertions:
//	  - type: record_status
//	    ref: m1
//	    status: SYNCED
//	    server_id: 101
//	  - type: trace_order
//	    events: ["push create m1", "fetch chat_messages"]
//
// Steps set exactly one of: submit, edit, delete, serve, fire, start, stop,
// advance, network, server, watchdog.
//
// # Assertion Types
//
//   - record_status: a submitted record's status and, optionally, server id
//   - record_absent: a submitted record was purged
//   - received_record: a record the server sent, by kind and server id
//   - layer_ids: the layer ids stored for a room
//   - online: the session online flag
//   - trace_contains, trace_order, trace_count: requests by label
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory database, a virtual clock starting at
// Epoch, a virtual scheduler and counter-based local ids. The engine is
// drained after each step and requests within a step are sorted, so the
// trace is identical across runs. Created records are acknowledged with
// FirstServerID plus their submission ordinal.
package harness
