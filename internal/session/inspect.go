package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// Snapshot is the persisted sync state of a database, read without
// starting an engine.
type Snapshot struct {
	Scope       model.ScopeKeys     `json:"scope"`
	Online      bool                `json:"online"`
	LastContact *time.Time          `json:"last_contact,omitempty"`
	Armed       []engine.Group      `json:"armed"`
	Records     []store.StatusCount `json:"records"`
	Layers      store.LayerCounts   `json:"layers"`
}

// Inspect reads a Snapshot from st.
func Inspect(ctx context.Context, st *store.Store) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Scope, err = loadScope(ctx, st, slog.Default()); err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}
	if snap.Online, err = loadOnline(ctx, st); err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}
	if snap.Armed, err = engine.PersistedGroups(ctx, st); err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}
	if snap.Armed == nil {
		snap.Armed = []engine.Group{}
	}
	if snap.Records, err = st.CountByStatus(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}
	if snap.Layers, err = st.CountLayerRows(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}

	value, ok, err := st.GetState(ctx, engine.StateLastContact)
	if err != nil {
		return Snapshot{}, fmt.Errorf("inspect: %w", err)
	}
	if ok {
		if ms, perr := strconv.ParseInt(value, 10, 64); perr == nil {
			at := time.UnixMilli(ms).UTC()
			snap.LastContact = &at
		}
	}
	return snap, nil
}
