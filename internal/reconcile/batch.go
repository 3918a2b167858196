package reconcile

import (
	"context"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/store"
)

// BatchOptions configures ReconcileBatch.
type BatchOptions struct {
	// PruneMissing deletes stored layers of the room that the fetched list
	// no longer contains.
	PruneMissing bool
}

// BatchResult counts the outcomes of a batch.
type BatchResult struct {
	Inserted  int `json:"inserted"`
	Replaced  int `json:"replaced"`
	Unchanged int `json:"unchanged"`
	Pruned    int `json:"pruned"`
	Failed    int `json:"failed"`
}

// Changed reports whether the batch wrote anything.
func (b BatchResult) Changed() bool {
	return b.Inserted+b.Replaced+b.Pruned > 0
}

// ReconcileBatch reconciles a fetched list of layers of one kind for scope.
//
// Each layer is its own transaction, so one malformed layer does not block
// the rest; it is logged and counted as Failed. Missing Kind and scope keys
// are filled in from the batch. The returned error is non-nil only when
// pruning fails or ctx is cancelled.
func (r *Reconciler) ReconcileBatch(
	ctx context.Context,
	kind model.LayerKind,
	scope model.ScopeKeys,
	incoming []model.LayeredResource,
	opts BatchOptions,
) (BatchResult, error) {
	var res BatchResult
	seen := make(map[string]bool, len(incoming))

	for _, l := range incoming {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if l.Kind == "" {
			l.Kind = kind
		}
		if l.Scope.IncidentID == 0 {
			l.Scope.IncidentID = scope.IncidentID
		}
		if l.Scope.CollabroomID == 0 {
			l.Scope.CollabroomID = scope.CollabroomID
		}
		seen[l.ID] = true

		result, err := r.Reconcile(ctx, l)
		if err != nil {
			r.logger.Warn("layer skipped", "kind", kind, "id", l.ID, "error", err)
			res.Failed++
			continue
		}
		switch result {
		case Inserted:
			res.Inserted++
		case Replaced:
			res.Replaced++
		case Unchanged:
			res.Unchanged++
		}
	}

	if opts.PruneMissing && scope.HasRoom() {
		pruned, err := r.prune(ctx, kind, scope, seen)
		if err != nil {
			return res, err
		}
		res.Pruned = pruned
	}

	r.logger.Debug("layer batch reconciled",
		"kind", kind,
		"scope", scope,
		"inserted", res.Inserted,
		"replaced", res.Replaced,
		"unchanged", res.Unchanged,
		"pruned", res.Pruned,
		"failed", res.Failed,
	)
	return res, nil
}

func (r *Reconciler) prune(ctx context.Context, kind model.LayerKind, scope model.ScopeKeys, keep map[string]bool) (int, error) {
	var removed []string
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		ids, err := tx.LayerIDsForScope(ctx, kind, scope.CollabroomID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if keep[id] {
				continue
			}
			deleted, err := tx.DeleteLayer(ctx, kind, id)
			if err != nil {
				return err
			}
			if deleted {
				removed = append(removed, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune %s layers: %w", kind, err)
	}

	for _, id := range removed {
		r.publishLayer(model.LayeredResource{ID: id, Kind: kind, Scope: scope}, "deleted")
	}
	return len(removed), nil
}

// SetActive writes the UI selection flag of one layer. changed is false when
// the flag already had that value or the layer does not exist.
func (r *Reconciler) SetActive(ctx context.Context, kind model.LayerKind, id string, active bool) (changed bool, err error) {
	var scope model.ScopeKeys
	err = r.store.WithTx(ctx, func(tx *store.Tx) error {
		changed, err = tx.SetLayerActive(ctx, kind, id, active)
		if err != nil || !changed {
			return err
		}
		rows, err := tx.LoadLayers(ctx, kind, id)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			scope = rows[len(rows)-1].Scope
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set active: %w", err)
	}
	if changed {
		result := "deactivated"
		if active {
			result = "activated"
		}
		r.publishLayer(model.LayeredResource{ID: id, Kind: kind, Scope: scope}, result)
	}
	return changed, nil
}

// DeactivateAll clears the selection flag of every layer of kind.
func (r *Reconciler) DeactivateAll(ctx context.Context, kind model.LayerKind) (int64, error) {
	var n int64
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.DeactivateAll(ctx, kind)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate all: %w", err)
	}
	if n > 0 && r.bus != nil {
		r.bus.Publish(notify.Change{Type: notify.ChangeLayer, LayerKind: kind, Result: "deactivated"})
	}
	return n, nil
}

// DeleteScope removes every layer of kind stored for the room, together with
// their features and hazards.
func (r *Reconciler) DeleteScope(ctx context.Context, kind model.LayerKind, scope model.ScopeKeys) (int64, error) {
	var n int64
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.DeleteLayersForScope(ctx, kind, scope.CollabroomID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete scope: %w", err)
	}
	if n > 0 && r.bus != nil {
		r.bus.Publish(notify.Change{Type: notify.ChangeLayer, Scope: scope, LayerKind: kind, Result: "deleted"})
	}
	return n, nil
}
