package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// InsertRecord inserts a new user-authored record.
// The status must be valid; the table's CHECK constraint rejects anything else.
func (t *Tx) InsertRecord(ctx context.Context, rec model.SyncableRecord) error {
	return insertRecord(ctx, t.tx, rec)
}

// UpdateRecordStatus writes a new status for a record.
// Returns ErrRecordNotFound if the record does not exist.
func (t *Tx) UpdateRecordStatus(ctx context.Context, localID string, status model.SyncStatus, modifiedAt time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("update record %s: %w: code %d", localID, model.ErrUnknownStatus, uint8(status))
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE records SET status = ?, last_modified_at = ? WHERE local_id = ?
	`, status.Code(), toMillis(modifiedAt), localID)
	if err != nil {
		return fmt.Errorf("update record %s: %w", localID, err)
	}
	return requireOneRow(result, localID)
}

// UpdateRecordPayload writes an edited payload together with its new status.
func (t *Tx) UpdateRecordPayload(ctx context.Context, localID string, payload []byte, status model.SyncStatus, modifiedAt time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("update record %s: %w: code %d", localID, model.ErrUnknownStatus, uint8(status))
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("update record %s: %w", localID, err)
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE records SET payload = ?, status = ?, last_modified_at = ? WHERE local_id = ?
	`, body, status.Code(), toMillis(modifiedAt), localID)
	if err != nil {
		return fmt.Errorf("update record %s: %w", localID, err)
	}
	return requireOneRow(result, localID)
}

// SetServerID records the id the server assigned on create.
func (t *Tx) SetServerID(ctx context.Context, localID string, serverID int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE records SET server_id = ? WHERE local_id = ?
	`, serverID, localID)
	if err != nil {
		return fmt.Errorf("set server id on %s: %w", localID, err)
	}
	return requireOneRow(result, localID)
}

// DropReceivedCopy deletes the SYNCED row of kind that already holds
// serverID under a local id other than keepLocalID. Such a row is a fetched
// copy of a record this device created, stored before the create's ack was
// applied. Reports the dropped row's local id, empty when there was none.
func (t *Tx) DropReceivedCopy(ctx context.Context, kind model.RecordKind, serverID int64, keepLocalID string) (string, error) {
	var localID string
	var statusCode int
	err := t.tx.QueryRowContext(ctx, `
		SELECT local_id, status FROM records WHERE kind = ? AND server_id = ? AND local_id <> ?
	`, string(kind), serverID, keepLocalID).Scan(&localID, &statusCode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find received %s/%d: %w", kind, serverID, err)
	}
	if statusCode != model.StatusSynced.Code() {
		return "", fmt.Errorf("received %s/%d has local changes: %w", kind, serverID, ErrServerIDTaken)
	}
	if err := t.DeleteRecord(ctx, localID); err != nil {
		return "", err
	}
	return localID, nil
}

// DeleteRecord physically removes a record.
func (t *Tx) DeleteRecord(ctx context.Context, localID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", localID, err)
	}
	return requireOneRow(result, localID)
}

// ResetInFlight rewrites every in-flight record to its queued counterpart.
// Called once at session start: an in-flight status found on disk belongs to
// a request whose outcome was lost with the previous process.
func (s *Store) ResetInFlight(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, from := range model.InFlightStatuses() {
			to := model.RecoverInFlight(from)
			result, err := tx.tx.ExecContext(ctx, `
				UPDATE records SET status = ?, last_modified_at = ? WHERE status = ?
			`, to.Code(), toMillis(now), from.Code())
			if err != nil {
				return fmt.Errorf("reset %s: %w", from, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("reset %s: rows affected: %w", from, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset in-flight records: %w", err)
	}
	return total, nil
}

// UpsertReceived stores a record fetched from the server, keyed by
// (kind, server_id).
//
// A new server record is inserted as SYNCED under newLocalID. An existing
// SYNCED row has its payload and scope overwritten. A row with local changes
// waiting to be pushed is left alone: the pending change wins until it has
// been sent. changed reports whether anything was written.
func (t *Tx) UpsertReceived(ctx context.Context, rec model.ServerRecord, newLocalID string, now time.Time) (changed bool, err error) {
	body, err := marshalPayload(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("upsert received %s/%d: %w", rec.Kind, rec.ServerID, err)
	}

	var localID, storedPayload string
	var statusCode int
	var incidentID, collabroomID int64
	err = t.tx.QueryRowContext(ctx, `
		SELECT local_id, status, payload, incident_id, collabroom_id
		FROM records WHERE kind = ? AND server_id = ?
	`, string(rec.Kind), rec.ServerID).Scan(&localID, &statusCode, &storedPayload, &incidentID, &collabroomID)

	if errors.Is(err, sql.ErrNoRows) {
		created := rec.CreatedAt
		if created.IsZero() {
			created = now
		}
		serverID := rec.ServerID
		insertErr := insertRecord(ctx, t.tx, model.SyncableRecord{
			LocalID:        newLocalID,
			ServerID:       &serverID,
			Kind:           rec.Kind,
			Scope:          rec.Scope,
			Payload:        []byte(body),
			Status:         model.StatusSynced,
			CreatedAt:      created,
			LastModifiedAt: now,
		})
		if insertErr != nil {
			return false, fmt.Errorf("upsert received %s/%d: %w", rec.Kind, rec.ServerID, insertErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert received %s/%d: %w", rec.Kind, rec.ServerID, err)
	}

	status, err := model.StatusFromCode(statusCode)
	if err != nil {
		return false, fmt.Errorf("upsert received %s/%d: %w", rec.Kind, rec.ServerID, err)
	}
	if status != model.StatusSynced {
		return false, nil
	}
	if storedPayload == body && incidentID == rec.Scope.IncidentID && collabroomID == rec.Scope.CollabroomID {
		return false, nil
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE records SET payload = ?, incident_id = ?, collabroom_id = ?, last_modified_at = ?
		WHERE local_id = ?
	`, body, rec.Scope.IncidentID, rec.Scope.CollabroomID, toMillis(now), localID)
	if err != nil {
		return false, fmt.Errorf("upsert received %s/%d: %w", rec.Kind, rec.ServerID, err)
	}
	return true, nil
}

// SetState writes one engine_state value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes one engine_state value. Missing keys are not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM engine_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	return nil
}

func insertRecord(ctx context.Context, q querier, rec model.SyncableRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("insert record %s: %w: code %d", rec.LocalID, model.ErrUnknownStatus, uint8(rec.Status))
	}
	body, err := marshalPayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.LocalID, err)
	}
	var serverID sql.NullInt64
	if rec.ServerID != nil {
		serverID = sql.NullInt64{Int64: *rec.ServerID, Valid: true}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO records
		(local_id, server_id, kind, incident_id, collabroom_id, payload, status, created_at, last_modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.LocalID, serverID, string(rec.Kind), rec.Scope.IncidentID, rec.Scope.CollabroomID,
		body, rec.Status.Code(), toMillis(rec.CreatedAt), toMillis(rec.LastModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.LocalID, err)
	}
	return nil
}

func requireOneRow(result sql.Result, localID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record %s: rows affected: %w", localID, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", localID, ErrRecordNotFound)
	}
	return nil
}
