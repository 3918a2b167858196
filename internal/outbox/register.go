// Package outbox persists the send status of user-authored records.
//
// Register applies the pure rules of model (Queue, MarkInFlight, Ack, Fail,
// RecoverInFlight) to stored records. Every operation reads the record and
// writes the outcome in one store transaction; the change notification is
// published after commit.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/store"
)

// Register is the send-status register.
//
// Thread-safety: safe for concurrent use. Serialization comes from the
// store's single connection.
type Register struct {
	store  *store.Store
	bus    *notify.Bus
	ids    model.IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Register.
type Option func(*Register)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Register) { r.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Register) { r.logger = l }
}

// New creates a Register. bus may be nil when nobody observes changes.
func New(s *store.Store, bus *notify.Bus, ids model.IDGenerator, opts ...Option) *Register {
	r := &Register{
		store:  s,
		bus:    bus,
		ids:    ids,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attempt is a record claimed for one push request.
type Attempt struct {
	Record model.SyncableRecord
	Op     model.Op
}

// Submit stores a new draft as SEND_PENDING under a fresh local id.
func (r *Register) Submit(ctx context.Context, d model.Draft) (model.SyncableRecord, error) {
	if _, err := model.ParseRecordKind(string(d.Kind)); err != nil {
		return model.SyncableRecord{}, fmt.Errorf("submit: %w", err)
	}
	tr, err := model.Queue(0, model.OpCreate)
	if err != nil {
		return model.SyncableRecord{}, fmt.Errorf("submit: %w", err)
	}

	now := r.now()
	rec := model.SyncableRecord{
		LocalID:        r.ids.Generate(),
		Kind:           d.Kind,
		Scope:          d.Scope,
		Payload:        d.Payload,
		Status:         tr.Next,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	err = r.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertRecord(ctx, rec)
	})
	if err != nil {
		return model.SyncableRecord{}, fmt.Errorf("submit: %w", err)
	}

	r.logger.Debug("record queued", "local_id", rec.LocalID, "kind", rec.Kind, "status", rec.Status)
	r.publish(rec, false)
	return rec, nil
}

// Edit replaces the payload of a record and queues the update.
func (r *Register) Edit(ctx context.Context, localID string, payload json.RawMessage) (model.SyncableRecord, error) {
	var rec model.SyncableRecord
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetRecord(ctx, localID)
		if err != nil {
			return err
		}
		tr, err := model.Queue(cur.Status, model.OpUpdate)
		if err != nil {
			return fmt.Errorf("record %s: %w", localID, err)
		}
		cur.Payload = payload
		cur.Status = tr.Next
		cur.LastModifiedAt = r.now()
		rec = cur
		return tx.UpdateRecordPayload(ctx, localID, payload, tr.Next, cur.LastModifiedAt)
	})
	if err != nil {
		return model.SyncableRecord{}, fmt.Errorf("edit: %w", err)
	}

	r.publish(rec, false)
	return rec, nil
}

// MarkQueued records a user change of kind op on an existing record without
// touching its payload. For OpDelete on a record that never left the device
// the record is purged; purged reports that.
func (r *Register) MarkQueued(ctx context.Context, localID string, op model.Op) (rec model.SyncableRecord, purged bool, err error) {
	if op == model.OpCreate {
		return model.SyncableRecord{}, false, fmt.Errorf("mark queued %s: %w: create requires Submit", localID, model.ErrInvalidTransition)
	}
	rec, tr, err := r.transition(ctx, localID, "mark queued", func(cur model.SyncStatus) (model.Transition, error) {
		return model.Queue(cur, op)
	})
	if err != nil {
		return model.SyncableRecord{}, false, err
	}
	return rec, tr.Purge, nil
}

// Delete is MarkQueued with OpDelete.
func (r *Register) Delete(ctx context.Context, localID string) (purged bool, err error) {
	_, purged, err = r.MarkQueued(ctx, localID, model.OpDelete)
	return purged, err
}

// MarkInFlight moves a queued record to its in-flight state.
func (r *Register) MarkInFlight(ctx context.Context, localID string) (model.SyncableRecord, error) {
	rec, _, err := r.transition(ctx, localID, "mark in flight", model.MarkInFlight)
	return rec, err
}

// MarkAcked applies a successful push of op. serverID, when non-nil, is the
// id the server assigned on create; it is recorded even if the ack was
// superseded by a later edit or delete. A SYNCED row already holding
// serverID is dropped in favour of the local record.
func (r *Register) MarkAcked(ctx context.Context, localID string, op model.Op, serverID *int64) (model.Transition, error) {
	var tr model.Transition
	var rec model.SyncableRecord
	var assigned bool
	var dropped string
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetRecord(ctx, localID)
		if err != nil {
			return err
		}
		tr, err = model.Ack(cur.Status, op)
		if err != nil {
			return fmt.Errorf("record %s: %w", localID, err)
		}
		if !tr.Purge && serverID != nil && !cur.HasServerID() {
			// A fetch may have stored the server's copy of this record
			// before the ack arrived; it is the same record.
			dropped, err = tx.DropReceivedCopy(ctx, cur.Kind, *serverID, localID)
			if err != nil {
				return err
			}
			if err := tx.SetServerID(ctx, localID, *serverID); err != nil {
				return err
			}
			id := *serverID
			cur.ServerID = &id
			assigned = true
		}
		rec, err = r.applyTx(ctx, tx, cur, tr)
		return err
	})
	if err != nil {
		return model.Transition{}, fmt.Errorf("mark acked: %w", err)
	}

	if dropped != "" {
		r.logger.Info("received copy folded into local record",
			"local_id", localID, "dropped", dropped, "server_id", *serverID)
	}
	if tr.Superseded {
		r.logger.Debug("ack superseded", "local_id", localID, "op", op, "status", tr.From)
	}
	if tr.Changed() || assigned {
		r.publish(rec, tr.Purge)
	}
	return tr, nil
}

// MarkFailed applies a failed push of op. The record stays queued and is
// retried on the next poll.
func (r *Register) MarkFailed(ctx context.Context, localID string, op model.Op) (model.Transition, error) {
	_, tr, err := r.transition(ctx, localID, "mark failed", func(cur model.SyncStatus) (model.Transition, error) {
		return model.Fail(cur, op)
	})
	return tr, err
}

// ResetInFlight maps every in-flight record back to its queued state.
// Called once when a session opens.
func (r *Register) ResetInFlight(ctx context.Context) (int64, error) {
	n, err := r.store.ResetInFlight(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("in-flight records re-queued", "count", n)
		if r.bus != nil {
			r.bus.Publish(notify.Change{Type: notify.ChangeRecord})
		}
	}
	return n, nil
}

// PendingPush lists the queued records of kind within scope, oldest first.
func (r *Register) PendingPush(ctx context.Context, kind model.RecordKind, scope model.ScopeKeys) ([]model.SyncableRecord, error) {
	return r.store.PendingPush(ctx, kind, scope)
}

// ClaimPending marks every pushable queued record of kind within scope in
// flight and returns one Attempt per record.
//
// An update or delete whose record has no server id yet is skipped: its
// create is still outstanding, and the server id arrives with that ack.
func (r *Register) ClaimPending(ctx context.Context, kind model.RecordKind, scope model.ScopeKeys) ([]Attempt, error) {
	pending, err := r.store.PendingPush(ctx, kind, scope)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}

	attempts := make([]Attempt, 0, len(pending))
	for _, p := range pending {
		op, _ := p.Status.Op()
		if op != model.OpCreate && !p.HasServerID() {
			r.logger.Debug("push deferred until create is acked", "local_id", p.LocalID, "op", op)
			continue
		}
		rec, err := r.MarkInFlight(ctx, p.LocalID)
		if err != nil {
			// The user changed the record between the scan and the claim.
			r.logger.Debug("claim skipped", "local_id", p.LocalID, "error", err)
			continue
		}
		attempts = append(attempts, Attempt{Record: rec, Op: op})
	}
	return attempts, nil
}

// transition reads a record, applies rule to its status and writes the
// outcome, all in one transaction.
func (r *Register) transition(
	ctx context.Context,
	localID, action string,
	rule func(model.SyncStatus) (model.Transition, error),
) (model.SyncableRecord, model.Transition, error) {
	var tr model.Transition
	var rec model.SyncableRecord
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetRecord(ctx, localID)
		if err != nil {
			return err
		}
		tr, err = rule(cur.Status)
		if err != nil {
			return fmt.Errorf("record %s: %w", localID, err)
		}
		rec, err = r.applyTx(ctx, tx, cur, tr)
		return err
	})
	if err != nil {
		return model.SyncableRecord{}, model.Transition{}, fmt.Errorf("%s: %w", action, err)
	}

	if tr.Changed() {
		r.publish(rec, tr.Purge)
	}
	return rec, tr, nil
}

// applyTx writes tr for cur and returns the record as it now stands.
func (r *Register) applyTx(ctx context.Context, tx *store.Tx, cur model.SyncableRecord, tr model.Transition) (model.SyncableRecord, error) {
	if tr.Purge {
		if err := tx.DeleteRecord(ctx, cur.LocalID); err != nil {
			return model.SyncableRecord{}, err
		}
		return cur, nil
	}
	if !tr.Changed() {
		return cur, nil
	}
	now := r.now()
	if err := tx.UpdateRecordStatus(ctx, cur.LocalID, tr.Next, now); err != nil {
		return model.SyncableRecord{}, err
	}
	cur.Status = tr.Next
	cur.LastModifiedAt = now
	return cur, nil
}

func (r *Register) publish(rec model.SyncableRecord, purged bool) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(notify.Change{
		Type:       notify.ChangeRecord,
		Scope:      rec.Scope,
		RecordKind: rec.Kind,
		LocalID:    rec.LocalID,
		Status:     rec.Status,
		Purged:     purged,
	})
}
