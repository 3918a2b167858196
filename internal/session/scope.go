package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
)

// Start begins server-wide polling and the connectivity watchdog.
func (s *Session) Start(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.engine.Start(ctx, engine.GroupServer); err != nil {
		return err
	}
	s.engine.StartWatchdog()
	return nil
}

// Resume re-arms what the previous session had armed. With nothing
// persisted it arms by scope: server always, incident and room when
// selected. Returns the groups now armed.
func (s *Session) Resume(ctx context.Context) ([]engine.Group, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	restored, err := s.engine.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if len(restored) == 0 {
		scope := s.Scope()
		if err := s.engine.Start(ctx, engine.GroupServer); err != nil {
			return nil, err
		}
		if scope.HasIncident() {
			if err := s.engine.Start(ctx, engine.GroupIncident); err != nil {
				return nil, err
			}
		}
		if scope.HasIncident() && scope.HasRoom() {
			if err := s.engine.Start(ctx, engine.GroupCollabroom); err != nil {
				return nil, err
			}
		}
	}
	if s.Scope().HasRoom() {
		s.RefreshOverlappingLayers()
	}
	s.engine.StartWatchdog()

	armed := s.engine.ArmedGroups()
	s.logger.Info("session resumed", "armed", armed)
	return armed, nil
}

// SelectIncident switches to incidentID. The room selection is cleared and
// room polling stops; incident polling restarts against the new scope.
func (s *Session) SelectIncident(ctx context.Context, incidentID int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if incidentID <= 0 {
		return fmt.Errorf("select incident: invalid id %d", incidentID)
	}

	if err := s.engine.Stop(ctx, engine.GroupCollabroom); err != nil {
		return err
	}
	if err := s.setScope(ctx, model.ScopeKeys{IncidentID: incidentID}); err != nil {
		return err
	}
	if err := s.engine.Stop(ctx, engine.GroupIncident); err != nil {
		return err
	}
	return s.engine.Start(ctx, engine.GroupIncident)
}

// SelectCollabroom switches to roomID within the selected incident and
// fetches the overlapping room layers once.
func (s *Session) SelectCollabroom(ctx context.Context, roomID int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if roomID <= 0 {
		return fmt.Errorf("select collabroom: invalid id %d", roomID)
	}
	scope := s.Scope()
	if !scope.HasIncident() {
		return fmt.Errorf("select collabroom %d: %w", roomID, ErrNoIncident)
	}

	scope.CollabroomID = roomID
	if err := s.setScope(ctx, scope); err != nil {
		return err
	}
	if err := s.engine.Stop(ctx, engine.GroupCollabroom); err != nil {
		return err
	}
	if err := s.engine.Start(ctx, engine.GroupCollabroom); err != nil {
		return err
	}
	s.RefreshOverlappingLayers()
	return nil
}

// ClearScope stops incident and room polling and forgets the selection.
// Server polling keeps running.
func (s *Session) ClearScope(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, g := range []engine.Group{engine.GroupAll, engine.GroupCollabroom, engine.GroupIncident} {
		if err := s.engine.Stop(ctx, g); err != nil {
			return err
		}
	}
	return s.setScope(ctx, model.ScopeKeys{})
}

// StartPolling arms the full room working set.
func (s *Session) StartPolling(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.Start(ctx, engine.GroupAll)
}

// StopPolling disarms the full room working set.
func (s *Session) StopPolling(ctx context.Context) error {
	return s.engine.Stop(ctx, engine.GroupAll)
}

// RefreshOverlappingLayers fetches the other rooms' markup shown as layers
// in the selected room. It is never polled.
func (s *Session) RefreshOverlappingLayers() {
	s.engine.FireOnce(model.ResourceOverlappingRoomLayers)
}

func (s *Session) setScope(ctx context.Context, scope model.ScopeKeys) error {
	data, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	if err := s.store.SetState(ctx, StateScope, string(data)); err != nil {
		return err
	}

	s.mu.Lock()
	s.scope = scope
	s.mu.Unlock()
	s.engine.SetScope(scope)
	s.logger.Info("scope selected", "scope", scope.String())
	return nil
}
