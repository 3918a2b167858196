package model

import (
	"encoding/json"
	"time"
)

// SyncableRecord is a user-authored record that travels device -> server.
//
// LocalID is assigned at creation and never changes. ServerID stays nil until
// the first create is acknowledged. Records pulled from the server are stored
// with StatusSynced and a ServerID.
type SyncableRecord struct {
	LocalID        string          `json:"local_id"`
	ServerID       *int64          `json:"server_id,omitempty"`
	Kind           RecordKind      `json:"kind"`
	Scope          ScopeKeys       `json:"scope"`
	Payload        json.RawMessage `json:"payload"`
	Status         SyncStatus      `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	LastModifiedAt time.Time       `json:"last_modified_at"`
}

// HasServerID reports whether the server has acknowledged a create.
func (r SyncableRecord) HasServerID() bool {
	return r.ServerID != nil
}

// Draft is what the UI hands over when the user authors a record.
type Draft struct {
	Kind    RecordKind      `json:"kind"`
	Scope   ScopeKeys       `json:"scope"`
	Payload json.RawMessage `json:"payload"`
}

// ServerRecord is a record as the server reports it on fetch.
type ServerRecord struct {
	ServerID  int64           `json:"server_id"`
	Kind      RecordKind      `json:"kind"`
	Scope     ScopeKeys       `json:"scope"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
