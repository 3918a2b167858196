package engine

import (
	"context"

	"github.com/roach88/fieldsync/internal/model"
)

// Transport is the network collaborator. Calls are synchronous from the
// implementation's point of view; the engine runs each on its own goroutine
// and bounds it with the hold timeout.
type Transport interface {
	// Fetch returns what the server currently holds for rt within scope.
	Fetch(ctx context.Context, rt model.ResourceType, scope model.ScopeKeys) (FetchResult, error)

	// Push sends one record. The operation is implied by the record's
	// in-flight status.
	Push(ctx context.Context, rec model.SyncableRecord) (PushAck, error)
}

// FetchResult carries the layers and/or records one fetch returned.
type FetchResult struct {
	Layers  []model.LayeredResource `json:"layers,omitempty"`
	Records []model.ServerRecord    `json:"records,omitempty"`
}

// PushAck is a successful push response. ServerID is set on create.
type PushAck struct {
	ServerID *int64 `json:"server_id,omitempty"`
}
