// Package model provides the domain types and pure send-status rules for
// fieldsync.
//
// This package holds type definitions and functions without side effects.
// Every other internal package imports model; model imports nothing
// internal.
//
// Key design constraints:
//   - SyncStatus persists as a validated integer code; unknown codes are errors
//   - Status transitions are pure functions returning a Transition
//   - Layer equality is a fingerprint over canonical JSON and ignores Active
//   - All JSON tags use snake_case
package model
