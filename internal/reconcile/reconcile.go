// Package reconcile merges server-authoritative layers into the local store.
//
// Reconcile is a blind insert followed, on conflict, by a structural
// comparison. An unchanged layer costs zero writes and produces no
// notification, so a poll that returns the same data never makes the map
// flicker.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/store"
)

// MergeResult is the outcome of reconciling one layer.
type MergeResult int

const (
	// Inserted means no layer with the natural key existed.
	Inserted MergeResult = iota + 1
	// Replaced means the stored layer differed and was overwritten.
	Replaced
	// Unchanged means the stored layer was structurally equal; nothing was written.
	Unchanged
)

func (r MergeResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Unchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("MergeResult(%d)", int(r))
	}
}

// LayerTx is the slice of a store transaction the merge needs.
// Implemented by *store.Tx.
type LayerTx interface {
	InsertLayerIgnore(ctx context.Context, l model.LayeredResource) (bool, error)
	LoadLayers(ctx context.Context, kind model.LayerKind, id string) ([]model.LayeredResource, error)
	ReplaceLayer(ctx context.Context, l model.LayeredResource) error
}

// Reconciler applies fetched layers to the store.
//
// Thread-safety: safe for concurrent use. Each layer is reconciled in its
// own store transaction.
type Reconciler struct {
	store  *store.Store
	bus    *notify.Bus
	logger *slog.Logger
}

// New creates a Reconciler. bus may be nil; a nil logger uses slog.Default().
func New(s *store.Store, bus *notify.Bus, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, bus: bus, logger: logger}
}

// Reconcile merges one incoming layer in a single transaction.
//
// Inserted and Replaced results publish a ChangeLayer notification after
// commit; Unchanged publishes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, incoming model.LayeredResource) (MergeResult, error) {
	if err := incoming.Validate(); err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	var result MergeResult
	var written model.LayeredResource
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		result, written, err = Merge(ctx, tx, incoming)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile layer %s: %w", incoming.ID, err)
	}

	r.logger.Debug("layer reconciled", "kind", incoming.Kind, "id", incoming.ID, "result", result)
	if result != Unchanged {
		r.publishLayer(written, result.String())
	}
	return result, nil
}

// Merge performs the insert-or-compare-and-replace on tx and returns the
// result together with the layer as written.
//
// When several stored rows share the natural key they are folded in load
// order: every row that differs from incoming triggers a replace, and an
// active row forces the written copy to stay active. The last differing row
// therefore determines what is written. A zero scope key in incoming keeps
// the stored key.
func Merge(ctx context.Context, tx LayerTx, incoming model.LayeredResource) (MergeResult, model.LayeredResource, error) {
	inserted, err := tx.InsertLayerIgnore(ctx, incoming)
	if err != nil {
		return 0, incoming, err
	}
	if inserted {
		return Inserted, incoming, nil
	}

	existing, err := tx.LoadLayers(ctx, incoming.Kind, incoming.ID)
	if err != nil {
		return 0, incoming, err
	}
	if len(existing) == 0 {
		return 0, incoming, fmt.Errorf("insert conflicted but no row for %s/%s", incoming.Kind, incoming.ID)
	}

	// A zero scope key means the sender did not say; the stored key stands.
	incoming = inheritScope(incoming, existing[len(existing)-1].Scope)

	next := incoming
	result := Unchanged
	for _, row := range existing {
		if row.Equal(incoming) {
			continue
		}
		if row.Active {
			next.Active = true
		}
		result = Replaced
	}
	if result == Unchanged {
		return Unchanged, existing[len(existing)-1], nil
	}

	if err := tx.ReplaceLayer(ctx, next); err != nil {
		return 0, incoming, err
	}
	return Replaced, next, nil
}

func inheritScope(l model.LayeredResource, stored model.ScopeKeys) model.LayeredResource {
	if l.Scope.IncidentID == 0 {
		l.Scope.IncidentID = stored.IncidentID
	}
	if l.Scope.CollabroomID == 0 {
		l.Scope.CollabroomID = stored.CollabroomID
	}
	return l
}

func (r *Reconciler) publishLayer(l model.LayeredResource, result string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(notify.Change{
		Type:      notify.ChangeLayer,
		Scope:     l.Scope,
		LayerKind: l.Kind,
		LayerID:   l.ID,
		Result:    result,
	})
}
