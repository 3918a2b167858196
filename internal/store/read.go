package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/fieldsync/internal/model"
)

// GetRecord retrieves a record by local id inside the transaction.
// Returns ErrRecordNotFound if it does not exist.
func (t *Tx) GetRecord(ctx context.Context, localID string) (model.SyncableRecord, error) {
	return getRecord(ctx, t.tx, localID)
}

// GetRecord retrieves a record by local id.
// Returns ErrRecordNotFound if it does not exist.
func (s *Store) GetRecord(ctx context.Context, localID string) (model.SyncableRecord, error) {
	return getRecord(ctx, s.db, localID)
}

// RecordFilter narrows ListRecords. Zero fields match everything.
type RecordFilter struct {
	Kind     model.RecordKind
	Scope    model.ScopeKeys
	Statuses []model.SyncStatus
}

// ListRecords returns records matching the filter.
// Results are ordered deterministically: ORDER BY created_at ASC, local_id ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]model.SyncableRecord, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Scope.IncidentID != 0 {
		where = append(where, "incident_id = ?")
		args = append(args, f.Scope.IncidentID)
	}
	if f.Scope.CollabroomID != 0 {
		where = append(where, "collabroom_id = ?")
		args = append(args, f.Scope.CollabroomID)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, st.Code())
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT local_id, server_id, kind, incident_id, collabroom_id, payload, status, created_at, last_modified_at
		FROM records`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY created_at ASC, local_id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []model.SyncableRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// PendingPush returns the queued records of kind within scope, oldest first.
func (s *Store) PendingPush(ctx context.Context, kind model.RecordKind, scope model.ScopeKeys) ([]model.SyncableRecord, error) {
	return s.ListRecords(ctx, RecordFilter{
		Kind:     kind,
		Scope:    scope,
		Statuses: model.QueuedStatuses(),
	})
}

// StatusCount is the number of records of one kind in one status.
type StatusCount struct {
	Kind   model.RecordKind `json:"kind"`
	Status model.SyncStatus `json:"status"`
	Count  int64            `json:"count"`
}

// CountByStatus groups records by kind and status.
// Ordered by kind, then status code.
func (s *Store) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, status, COUNT(*)
		FROM records
		GROUP BY kind, status
		ORDER BY kind COLLATE BINARY ASC, status ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := []StatusCount{}
	for rows.Next() {
		var kind string
		var code int
		var c StatusCount
		if err := rows.Scan(&kind, &code, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		status, err := model.StatusFromCode(code)
		if err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.Kind = model.RecordKind(kind)
		c.Status = status
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// GetState reads one engine_state value. ok is false if the key is unset.
func (s *Store) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, true, nil
}

func getRecord(ctx context.Context, q querier, localID string) (model.SyncableRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT local_id, server_id, kind, incident_id, collabroom_id, payload, status, created_at, last_modified_at
		FROM records
		WHERE local_id = ?
	`, localID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncableRecord{}, fmt.Errorf("record %s: %w", localID, ErrRecordNotFound)
	}
	return rec, err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row into a SyncableRecord. Unknown status codes are
// reported as errors, never defaulted.
func scanRecord(row rowScanner) (model.SyncableRecord, error) {
	var rec model.SyncableRecord
	var serverID sql.NullInt64
	var kind, payload string
	var code int
	var created, modified int64

	if err := row.Scan(
		&rec.LocalID, &serverID, &kind, &rec.Scope.IncidentID, &rec.Scope.CollabroomID,
		&payload, &code, &created, &modified,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SyncableRecord{}, err
		}
		return model.SyncableRecord{}, fmt.Errorf("scan record: %w", err)
	}

	status, err := model.StatusFromCode(code)
	if err != nil {
		return model.SyncableRecord{}, fmt.Errorf("record %s: %w", rec.LocalID, err)
	}

	if serverID.Valid {
		id := serverID.Int64
		rec.ServerID = &id
	}
	rec.Kind = model.RecordKind(kind)
	rec.Payload = []byte(payload)
	rec.Status = status
	rec.CreatedAt = fromMillis(created)
	rec.LastModifiedAt = fromMillis(modified)
	return rec, nil
}
