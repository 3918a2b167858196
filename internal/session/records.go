package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// Submit queues a new record. A draft without scope keys is filed under the
// selected scope.
func (s *Session) Submit(ctx context.Context, d model.Draft) (model.SyncableRecord, error) {
	if err := s.checkOpen(); err != nil {
		return model.SyncableRecord{}, err
	}
	if d.Scope == (model.ScopeKeys{}) {
		d.Scope = s.Scope()
	}
	if !d.Scope.HasIncident() {
		return model.SyncableRecord{}, fmt.Errorf("submit %s: %w", d.Kind, ErrNoIncident)
	}
	return s.register.Submit(ctx, d)
}

// Edit replaces a record's payload and queues the update.
func (s *Session) Edit(ctx context.Context, localID string, payload json.RawMessage) (model.SyncableRecord, error) {
	if err := s.checkOpen(); err != nil {
		return model.SyncableRecord{}, err
	}
	return s.register.Edit(ctx, localID, payload)
}

// Delete queues a record's deletion. purged is true when the record never
// reached the server and was removed locally.
func (s *Session) Delete(ctx context.Context, localID string) (purged bool, err error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return s.register.Delete(ctx, localID)
}

// SetLayerActive records the user's layer selection.
func (s *Session) SetLayerActive(ctx context.Context, kind model.LayerKind, id string, active bool) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return s.reconciler.SetActive(ctx, kind, id, active)
}
