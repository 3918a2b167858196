package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")

			s, err := Open(path, WithDriver(driver))
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer s.Close()

			if _, err := os.Stat(path); os.IsNotExist(err) {
				t.Error("database file was not created")
			}
			if s.Driver() != driver {
				t.Errorf("Driver() = %q, want %q", s.Driver(), driver)
			}
		})
	}
}

func TestOpen_DefaultDriver(t *testing.T) {
	s := createTestStore(t)
	if s.Driver() != DriverMattn {
		t.Errorf("Driver() = %q, want %q", s.Driver(), DriverMattn)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	if _, err := Open(path, WithDriver("postgres")); err == nil {
		t.Error("expected error for unsupported driver, got nil")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"records", "layers", "layer_features", "hazards", "engine_state"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	for _, driver := range testDrivers {
		t.Run(driver, func(t *testing.T) {
			s := createTestStoreWithDriver(t, driver)

			if err := s.verifyPragma("journal_mode", "wal"); err != nil {
				t.Error(err)
			}
			// NORMAL = 1
			if err := s.verifyPragma("synchronous", "1"); err != nil {
				t.Error(err)
			}
			if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
				t.Error(err)
			}
			// ON = 1
			if err := s.verifyPragma("foreign_keys", "1"); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_RecordsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "records")
	expected := []string{
		"local_id", "server_id", "kind", "incident_id", "collabroom_id",
		"payload", "status", "created_at", "last_modified_at",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("records table missing column %q", col)
		}
	}
}

func TestSchema_LayerTables(t *testing.T) {
	s := createTestStore(t)

	for table, cols := range map[string][]string{
		"layers":         {"row_id", "kind", "layer_id", "collabroom_id", "active"},
		"layer_features": {"row_id", "layer_row", "position", "feature_id", "coordinates", "properties"},
		"hazards":        {"row_id", "feature_row", "hazard_id", "radius"},
	} {
		columns := getTableColumns(t, s.db, table)
		for _, col := range cols {
			if !contains(columns, col) {
				t.Errorf("%s table missing column %q", table, col)
			}
		}
	}
}

func TestConstraint_StatusCheck(t *testing.T) {
	s := createTestStore(t)

	for _, code := range []int{0, 8} {
		_, err := s.db.Exec(`
			INSERT INTO records (local_id, kind, status, created_at, last_modified_at)
			VALUES (?, 'chat', ?, 0, 0)
		`, "bad", code)
		if err == nil {
			t.Errorf("status %d accepted by CHECK constraint", code)
		}
	}
}

func TestConstraint_ForeignKeyFeatureToLayer(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO layer_features (layer_row, position, feature_id) VALUES (999, 0, 'orphan')
	`)
	if err == nil {
		t.Error("expected foreign key violation for missing layer, got nil")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Apply schema but NOT migrations (simulates pre-migration state)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "records")
	if !contains(indexes, "idx_records_status") {
		t.Errorf("expected idx_records_status after migration, got indexes: %v", indexes)
	}
}

// Transaction tests

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertRecord(ctx, createTestRecord("r1", 2)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	if _, err := s.GetRecord(ctx, "r1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("record survived rollback: err = %v", err)
	}
}

// State tests

func TestState_SetGetDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetState(ctx, "online"); err != nil || ok {
		t.Fatalf("GetState(unset) = ok %v, err %v", ok, err)
	}

	if err := s.SetState(ctx, "online", "true"); err != nil {
		t.Fatalf("SetState() failed: %v", err)
	}
	if err := s.SetState(ctx, "online", "false"); err != nil {
		t.Fatalf("SetState() overwrite failed: %v", err)
	}

	value, ok, err := s.GetState(ctx, "online")
	if err != nil || !ok || value != "false" {
		t.Fatalf("GetState() = %q, %v, %v; want \"false\", true, nil", value, ok, err)
	}

	if err := s.DeleteState(ctx, "online"); err != nil {
		t.Fatalf("DeleteState() failed: %v", err)
	}
	if _, ok, _ := s.GetState(ctx, "online"); ok {
		t.Error("state survived DeleteState")
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
