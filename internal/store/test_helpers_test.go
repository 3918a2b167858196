package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// testDrivers lists the drivers every driver-sensitive test runs against.
var testDrivers = []string{DriverMattn, DriverModernc}

// createTestStore creates a new temp-file store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWithDriver(t, DriverMattn)
}

func createTestStoreWithDriver(t *testing.T, driver string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithDriver(driver))
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", driver, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

// createTestRecord creates a record with minimal required fields.
func createTestRecord(localID string, status model.SyncStatus) model.SyncableRecord {
	return model.SyncableRecord{
		LocalID:        localID,
		Kind:           model.KindChat,
		Scope:          model.ScopeKeys{IncidentID: 1, CollabroomID: 2},
		Payload:        json.RawMessage(`{"message":"hello"}`),
		Status:         status,
		CreatedAt:      testEpoch,
		LastModifiedAt: testEpoch,
	}
}

// createTestLayer creates a collabroom layer with two features, the second
// carrying a hazard.
func createTestLayer(id string, active bool) model.LayeredResource {
	return model.LayeredResource{
		ID:          id,
		Kind:        model.LayerCollabroom,
		Scope:       model.ScopeKeys{IncidentID: 1, CollabroomID: 2},
		DisplayName: "Layer " + id,
		Source:      model.LayerSource{URL: "https://maps.example/wfs", TypeName: "wfs", RefreshRate: 60},
		Active:      active,
		Features: []model.ChildFeature{
			{
				FeatureID:   "A",
				Type:        "polygon",
				Opacity:     0.5,
				Coordinates: []model.LatLng{{Lat: 34.1, Lng: -118.2}},
				Properties:  map[string]any{"acres": 120},
			},
			{
				FeatureID: "B",
				Type:      "point",
				Hazard: &model.Hazard{
					HazardID:    "h-" + id,
					Type:        "circle",
					Radius:      500,
					Metric:      "meters",
					Coordinates: []model.LatLng{{Lat: 34.1, Lng: -118.2}},
				},
			},
		},
	}
}

// insertTestRecord writes rec in its own transaction.
func insertTestRecord(t *testing.T, s *Store, rec model.SyncableRecord) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertRecord(context.Background(), rec)
	})
	if err != nil {
		t.Fatalf("InsertRecord(%s) failed: %v", rec.LocalID, err)
	}
}

// insertTestLayer writes l in its own transaction and reports whether it was new.
func insertTestLayer(t *testing.T, s *Store, l model.LayeredResource) bool {
	t.Helper()
	var inserted bool
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		inserted, err = tx.InsertLayerIgnore(context.Background(), l)
		return err
	})
	if err != nil {
		t.Fatalf("InsertLayerIgnore(%s) failed: %v", l.ID, err)
	}
	return inserted
}
