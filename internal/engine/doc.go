// Package engine implements the fieldsync poll scheduler.
//
// ARCHITECTURE:
//
// Timers and groups:
// Each resource type has at most one live timer (Poller). Groups arm and
// cancel sets of types together; ownership is tracked per type so stopping
// one group never cancels a timer another armed group still needs.
//
// Fire path:
//  1. A timer fires on a scheduler goroutine.
//  2. The guard checks connectivity, session and scope.
//  3. An execution hold is acquired and a worker goroutine starts.
//  4. The worker claims queued records (marks them in flight), pushes them
//     concurrently, then fetches the resource.
//  5. Every outcome is enqueued as a Completion; the hold is released.
//
// Apply loop:
// Engine.Run dequeues completions one at a time and applies them: send
// status transitions through the outbox register, layer batches through
// the reconciler, received records by server id upsert. Every success
// records server contact and promotes the online flag.
//
// Watchdog:
// A separate timer at the incident rate demotes the online flag when the
// server has been silent for twice that long while the device reports a
// network.
//
// Nothing here is fatal. Failed requests and failed applies are logged and
// retried on the next fire.
package engine
