package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/fieldsync/internal/model"
)

func TestInsertLayerIgnore_RoundTrip(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			s := createTestStoreWithDriver(t, driver)
			ctx := context.Background()
			want := createTestLayer("7", true)

			if !insertTestLayer(t, s, want) {
				t.Fatal("first insert reported conflict")
			}

			got, err := s.GetLayer(ctx, model.LayerCollabroom, "7")
			if err != nil {
				t.Fatalf("GetLayer() failed: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("round trip changed the layer:\n got %+v\nwant %+v", got, want)
			}
			if !got.Active {
				t.Error("active flag lost")
			}
			if got.Features[1].Hazard == nil || got.Features[1].Hazard.HazardID != "h-7" {
				t.Errorf("hazard not hydrated: %+v", got.Features[1].Hazard)
			}
			if got.Features[0].Hazard != nil {
				t.Errorf("feature A gained a hazard: %+v", got.Features[0].Hazard)
			}
		})
	}
}

func TestInsertLayerIgnore_ConflictWritesNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	insertTestLayer(t, s, createTestLayer("7", false))

	changed := createTestLayer("7", false)
	changed.DisplayName = "renamed"
	if insertTestLayer(t, s, changed) {
		t.Fatal("second insert with same natural key reported inserted")
	}

	got, err := s.GetLayer(ctx, model.LayerCollabroom, "7")
	if err != nil {
		t.Fatalf("GetLayer() failed: %v", err)
	}
	if got.DisplayName != "Layer 7" {
		t.Errorf("DisplayName = %q, conflicting insert overwrote the row", got.DisplayName)
	}

	counts, err := s.CountLayerRows(ctx)
	if err != nil {
		t.Fatalf("CountLayerRows() failed: %v", err)
	}
	if counts != (LayerCounts{Layers: 1, Features: 2, Hazards: 1}) {
		t.Errorf("counts = %+v after conflicting insert", counts)
	}
}

func TestReplaceLayer_ReplacesChildren(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insertTestLayer(t, s, createTestLayer("7", false))

	next := createTestLayer("7", true)
	next.Features = []model.ChildFeature{{FeatureID: "C", Type: "line"}}

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.ReplaceLayer(ctx, next)
	})
	if err != nil {
		t.Fatalf("ReplaceLayer() failed: %v", err)
	}

	got, err := s.GetLayer(ctx, model.LayerCollabroom, "7")
	if err != nil {
		t.Fatalf("GetLayer() failed: %v", err)
	}
	if len(got.Features) != 1 || got.Features[0].FeatureID != "C" {
		t.Errorf("features = %+v, want only C", got.Features)
	}
	if !got.Active {
		t.Error("active flag not written by replace")
	}

	counts, _ := s.CountLayerRows(ctx)
	if counts != (LayerCounts{Layers: 1, Features: 1, Hazards: 0}) {
		t.Errorf("counts = %+v, old hazard not cascaded", counts)
	}
}

func TestReplaceLayer_Missing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.ReplaceLayer(ctx, createTestLayer("nope", false))
	})
	if !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("ReplaceLayer(missing) error = %v, want ErrLayerNotFound", err)
	}
}

func TestDeleteLayer_CascadesToFeaturesAndHazards(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			s := createTestStoreWithDriver(t, driver)
			ctx := context.Background()
			insertTestLayer(t, s, createTestLayer("7", false))
			insertTestLayer(t, s, createTestLayer("8", false))

			var deleted bool
			err := s.WithTx(ctx, func(tx *Tx) error {
				var err error
				deleted, err = tx.DeleteLayer(ctx, model.LayerCollabroom, "7")
				return err
			})
			if err != nil || !deleted {
				t.Fatalf("DeleteLayer() = %v, %v", deleted, err)
			}

			counts, err := s.CountLayerRows(ctx)
			if err != nil {
				t.Fatalf("CountLayerRows() failed: %v", err)
			}
			if counts != (LayerCounts{Layers: 1, Features: 2, Hazards: 1}) {
				t.Errorf("counts = %+v, orphans left behind", counts)
			}
		})
	}
}

func TestDeleteLayersForScope(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insertTestLayer(t, s, createTestLayer("7", false))
	insertTestLayer(t, s, createTestLayer("8", false))
	other := createTestLayer("9", false)
	other.Scope.CollabroomID = 3
	insertTestLayer(t, s, other)

	var n int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.DeleteLayersForScope(ctx, model.LayerCollabroom, 2)
		return err
	})
	if err != nil {
		t.Fatalf("DeleteLayersForScope() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d layers, want 2", n)
	}

	counts, _ := s.CountLayerRows(ctx)
	if counts != (LayerCounts{Layers: 1, Features: 2, Hazards: 1}) {
		t.Errorf("counts = %+v after scope delete", counts)
	}

	remaining, err := s.ListLayers(ctx, model.LayerCollabroom, 3)
	if err != nil || len(remaining) != 1 || remaining[0].ID != "9" {
		t.Errorf("ListLayers(room 3) = %+v, %v", remaining, err)
	}
}

func TestSetLayerActive_AndDeactivateAll(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insertTestLayer(t, s, createTestLayer("7", false))
	insertTestLayer(t, s, createTestLayer("8", false))

	err := s.WithTx(ctx, func(tx *Tx) error {
		changed, err := tx.SetLayerActive(ctx, model.LayerCollabroom, "7", true)
		if err != nil {
			return err
		}
		if !changed {
			t.Error("SetLayerActive(false -> true) reported no change")
		}
		changed, err = tx.SetLayerActive(ctx, model.LayerCollabroom, "7", true)
		if err != nil {
			return err
		}
		if changed {
			t.Error("SetLayerActive(true -> true) reported a change")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SetLayerActive() failed: %v", err)
	}

	var n int64
	err = s.WithTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.DeactivateAll(ctx, model.LayerCollabroom)
		return err
	})
	if err != nil || n != 1 {
		t.Fatalf("DeactivateAll() = %d, %v; want 1, nil", n, err)
	}

	got, _ := s.GetLayer(ctx, model.LayerCollabroom, "7")
	if got.Active {
		t.Error("layer 7 still active after DeactivateAll")
	}
}

func TestLayerIDsForScope(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insertTestLayer(t, s, createTestLayer("8", false))
	insertTestLayer(t, s, createTestLayer("7", false))

	var ids []string
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		ids, err = tx.LayerIDsForScope(ctx, model.LayerCollabroom, 2)
		return err
	})
	if err != nil {
		t.Fatalf("LayerIDsForScope() failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "8" || ids[1] != "7" {
		t.Errorf("ids = %v, want insertion order [8 7]", ids)
	}
}

func TestGetLayer_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetLayer(context.Background(), model.LayerOverlappingRoom, "7")
	if !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("GetLayer(missing) error = %v, want ErrLayerNotFound", err)
	}
}

func TestListLayers_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	layers, err := s.ListLayers(context.Background(), model.LayerCollabroom, 2)
	if err != nil {
		t.Fatalf("ListLayers() failed: %v", err)
	}
	if layers == nil {
		t.Error("ListLayers() returned nil, want empty slice")
	}
}
