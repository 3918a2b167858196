package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/store"
)

var testScope = model.ScopeKeys{IncidentID: 1, CollabroomID: 2}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *notify.Subscription) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := notify.NewBus(nil)
	sub := bus.Subscribe(model.ScopeKeys{}, 128)
	return New(s, bus, nil), s, sub
}

func feature(id, label string) model.ChildFeature {
	return model.ChildFeature{FeatureID: id, Type: "point", LabelText: label}
}

func layer(id string, active bool, features ...model.ChildFeature) model.LayeredResource {
	return model.LayeredResource{
		ID:          id,
		Kind:        model.LayerCollabroom,
		Scope:       testScope,
		DisplayName: "Layer " + id,
		Active:      active,
		Features:    features,
	}
}

func drain(sub *notify.Subscription) []notify.Change {
	var out []notify.Change
	for {
		select {
		case c := <-sub.C:
			out = append(out, c)
		default:
			return out
		}
	}
}

func featureRowIDs(t *testing.T, s *store.Store) string {
	t.Helper()
	var ids string
	err := s.DB().QueryRow(`SELECT COALESCE(group_concat(row_id), '') FROM (SELECT row_id FROM layer_features ORDER BY row_id)`).Scan(&ids)
	require.NoError(t, err)
	return ids
}

func TestReconcile_Insert(t *testing.T) {
	r, s, sub := newTestReconciler(t)
	ctx := context.Background()

	result, err := r.Reconcile(ctx, layer("7", false, feature("A", "a"), feature("B", "b")))
	require.NoError(t, err)
	assert.Equal(t, Inserted, result)

	got, err := s.GetLayer(ctx, model.LayerCollabroom, "7")
	require.NoError(t, err)
	assert.Len(t, got.Features, 2)

	changes := drain(sub)
	require.Len(t, changes, 1)
	assert.Equal(t, "inserted", changes[0].Result)
	assert.Equal(t, "7", changes[0].LayerID)
}

func TestReconcile_UnchangedWritesNothing(t *testing.T) {
	r, s, sub := newTestReconciler(t)
	ctx := context.Background()
	in := layer("7", false, feature("A", "a"), feature("B", "b"))

	_, err := r.Reconcile(ctx, in)
	require.NoError(t, err)
	before := featureRowIDs(t, s)
	drain(sub)

	result, err := r.Reconcile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, result)

	assert.Equal(t, before, featureRowIDs(t, s), "children were rewritten")
	assert.Empty(t, drain(sub), "unchanged must not notify")
}

func TestReconcile_ActiveFlagAloneIsUnchanged(t *testing.T) {
	r, s, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, layer("7", true, feature("A", "a")))
	require.NoError(t, err)

	result, err := r.Reconcile(ctx, layer("7", false, feature("A", "a")))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, result)

	got, err := s.GetLayer(ctx, model.LayerCollabroom, "7")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestReconcile_ReplaceKeepsActive(t *testing.T) {
	r, s, sub := newTestReconciler(t)
	ctx := context.Background()

	// Stored: id=7, active, children [A, B'].
	_, err := r.Reconcile(ctx, layer("7", true, feature("A", "a"), feature("B", "b-prime")))
	require.NoError(t, err)
	drain(sub)

	// Incoming: id=7, inactive, children [A, B].
	result, err := r.Reconcile(ctx, layer("7", false, feature("A", "a"), feature("B", "b")))
	require.NoError(t, err)
	assert.Equal(t, Replaced, result)

	got, err := s.GetLayer(ctx, model.LayerCollabroom, "7")
	require.NoError(t, err)
	assert.True(t, got.Active, "active selection must survive a replace")
	require.Len(t, got.Features, 2)
	assert.Equal(t, "A", got.Features[0].FeatureID)
	assert.Equal(t, "B", got.Features[1].FeatureID)
	assert.Equal(t, "b", got.Features[1].LabelText)

	changes := drain(sub)
	require.Len(t, changes, 1)
	assert.Equal(t, "replaced", changes[0].Result)
}

func TestReconcile_ReplaceDropsOldHazards(t *testing.T) {
	r, s, _ := newTestReconciler(t)
	ctx := context.Background()

	withHazard := feature("A", "a")
	withHazard.Hazard = &model.Hazard{HazardID: "h1", Radius: 100}
	_, err := r.Reconcile(ctx, layer("7", false, withHazard))
	require.NoError(t, err)

	_, err = r.Reconcile(ctx, layer("7", false, feature("A", "a")))
	require.NoError(t, err)

	counts, err := s.CountLayerRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.LayerCounts{Layers: 1, Features: 1, Hazards: 0}, counts)
}

func TestReconcile_InvalidLayer(t *testing.T) {
	r, _, _ := newTestReconciler(t)
	_, err := r.Reconcile(context.Background(), layer("", false))
	assert.Error(t, err)
}

// fakeTx serves a fixed set of stored rows to exercise the multi-row fold.
type fakeTx struct {
	rows     []model.LayeredResource
	replaced []model.LayeredResource
	loadErr  error
}

func (f *fakeTx) InsertLayerIgnore(context.Context, model.LayeredResource) (bool, error) {
	return len(f.rows) == 0, nil
}

func (f *fakeTx) LoadLayers(context.Context, model.LayerKind, string) ([]model.LayeredResource, error) {
	return f.rows, f.loadErr
}

func (f *fakeTx) ReplaceLayer(_ context.Context, l model.LayeredResource) error {
	f.replaced = append(f.replaced, l)
	return nil
}

func TestMerge_MultiRowFold(t *testing.T) {
	ctx := context.Background()
	incoming := layer("7", false, feature("A", "a"))

	tests := []struct {
		name       string
		rows       []model.LayeredResource
		result     MergeResult
		wantActive bool
	}{
		{
			name:   "all rows equal",
			rows:   []model.LayeredResource{layer("7", true, feature("A", "a")), layer("7", false, feature("A", "a"))},
			result: Unchanged,
		},
		{
			name:       "active differing row first",
			rows:       []model.LayeredResource{layer("7", true, feature("A", "x")), layer("7", false, feature("A", "y"))},
			result:     Replaced,
			wantActive: true,
		},
		{
			name:       "equal row then active differing row",
			rows:       []model.LayeredResource{layer("7", false, feature("A", "a")), layer("7", true, feature("A", "y"))},
			result:     Replaced,
			wantActive: true,
		},
		{
			name:       "active equal row is not consulted",
			rows:       []model.LayeredResource{layer("7", true, feature("A", "a")), layer("7", false, feature("A", "y"))},
			result:     Replaced,
			wantActive: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &fakeTx{rows: tt.rows}
			result, written, err := Merge(ctx, tx, incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.result, result)
			if tt.result == Unchanged {
				assert.Empty(t, tx.replaced)
				return
			}
			require.Len(t, tx.replaced, 1, "one write per reconcile")
			assert.Equal(t, tt.wantActive, written.Active)
			assert.Equal(t, tt.wantActive, tx.replaced[0].Active)
		})
	}
}

func TestMerge_ConflictWithoutRows(t *testing.T) {
	tx := &conflictTx{fakeTx: &fakeTx{}}
	_, _, err := Merge(context.Background(), tx, layer("7", false))
	assert.Error(t, err)
}

func TestMerge_LoadError(t *testing.T) {
	boom := errors.New("boom")
	tx := &conflictTx{fakeTx: &fakeTx{loadErr: boom}}
	_, _, err := Merge(context.Background(), tx, layer("7", false))
	assert.ErrorIs(t, err, boom)
}

// conflictTx always reports a conflict, whatever LoadLayers returns.
type conflictTx struct{ *fakeTx }

func (c *conflictTx) InsertLayerIgnore(context.Context, model.LayeredResource) (bool, error) {
	return false, nil
}

func TestMergeResultString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "replaced", Replaced.String())
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "MergeResult(9)", MergeResult(9).String())
}
