// Package store provides SQLite-backed local storage for fieldsync.
//
// The store holds:
//   - Records: user-authored records with their send status, plus records
//     received from the server (stored SYNCED, keyed by kind and server id)
//   - Layers: server-authoritative map layers, their ordered features and
//     the optional hazard of each feature
//   - Engine state: a small key/value table (last contact, armed groups,
//     online flag)
//
// # Invariants
//
// Status codes: the status column is an INTEGER restricted to 1..7 by a CHECK
// constraint, and every read maps it back through model.StatusFromCode.
// Unknown codes surface as model.ErrUnknownStatus, never as a default.
//
// Cascading deletes: layer_features references layers and hazards references
// layer_features, both ON DELETE CASCADE. Deleting a layer, or every layer of
// a room, leaves no orphan rows.
//
// Natural keys: layers are UNIQUE(kind, layer_id). InsertLayerIgnore relies
// on ON CONFLICT DO NOTHING to detect an existing layer without a prior read.
//
// Deterministic ordering: record lists are ORDER BY created_at, local_id;
// features are ORDER BY position.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Two drivers are supported: github.com/mattn/go-sqlite3 ("sqlite3", the
// default) and modernc.org/sqlite ("sqlite", pure Go, for cgo-free builds).
package store
