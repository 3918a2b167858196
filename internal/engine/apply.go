package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
)

// apply routes a completion to its handler.
// CRITICAL: Called only from Run or Drain - single-writer guarantee.
func (e *Engine) apply(ctx context.Context, c Completion) error {
	switch c.Type {
	case CompletionPush:
		return e.applyPush(ctx, c)
	case CompletionFetch:
		return e.applyFetch(ctx, c)
	default:
		return fmt.Errorf("unknown completion type: %d", c.Type)
	}
}

// applyPush performs the send-status transition for one push outcome.
// A failed push puts the record back in its queue for the next fire.
func (e *Engine) applyPush(ctx context.Context, c Completion) error {
	rec := c.Attempt.Record

	if c.Err != nil {
		e.logger.Warn("push failed, re-queued",
			"seq", c.Seq,
			"local_id", rec.LocalID,
			"op", c.Attempt.Op.String(),
			"error", c.Err,
		)
		if _, err := e.register.MarkFailed(ctx, rec.LocalID, c.Attempt.Op); err != nil {
			return fmt.Errorf("mark failed %s: %w", rec.LocalID, err)
		}
		return nil
	}

	e.recordContact(ctx, c.At)

	tr, err := e.register.MarkAcked(ctx, rec.LocalID, c.Attempt.Op, c.Ack.ServerID)
	if err != nil {
		// Leave nothing in flight: the record goes back to its queue and
		// the next fire sends it again.
		if _, failErr := e.register.MarkFailed(ctx, rec.LocalID, c.Attempt.Op); failErr != nil {
			return fmt.Errorf("mark acked %s: %w", rec.LocalID, errors.Join(err, failErr))
		}
		return fmt.Errorf("mark acked %s, re-queued: %w", rec.LocalID, err)
	}
	e.logger.Debug("push acked",
		"seq", c.Seq,
		"local_id", rec.LocalID,
		"op", c.Attempt.Op.String(),
		"to", tr.Next.String(),
		"purged", tr.Purge,
		"superseded", tr.Superseded,
	)
	return nil
}

// applyFetch stores what a fetch returned: layers go through the
// reconciler, records are upserted by server id.
func (e *Engine) applyFetch(ctx context.Context, c Completion) error {
	if c.Err != nil {
		e.logger.Warn("fetch failed", "seq", c.Seq, "resource", c.ResourceType, "error", c.Err)
		return nil
	}

	e.recordContact(ctx, c.At)

	if kind, ok := c.ResourceType.LayerKind(); ok {
		res, err := e.reconciler.ReconcileBatch(ctx, kind, c.Scope, c.Result.Layers, reconcile.BatchOptions{
			// The room layer list is complete per room; overlapping layers
			// arrive one room at a time and are never pruned.
			PruneMissing: c.ResourceType == model.ResourceCollabroomLayers,
		})
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", c.ResourceType, err)
		}
		if res.Changed() || res.Failed > 0 {
			e.logger.Info("layers reconciled",
				"seq", c.Seq,
				"resource", c.ResourceType,
				"inserted", res.Inserted,
				"replaced", res.Replaced,
				"unchanged", res.Unchanged,
				"pruned", res.Pruned,
				"failed", res.Failed,
			)
		}
	}

	if len(c.Result.Records) > 0 {
		if err := e.applyRecords(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// applyRecords upserts fetched records in one transaction and notifies
// once per changed record after commit.
func (e *Engine) applyRecords(ctx context.Context, c Completion) error {
	var changed []model.ServerRecord
	now := e.clock.Now()

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, rec := range c.Result.Records {
			if rec.Kind == "" {
				kind, ok := c.ResourceType.RecordKind()
				if !ok {
					return fmt.Errorf("record %d: no kind for %s", rec.ServerID, c.ResourceType)
				}
				rec.Kind = kind
			}
			if rec.Scope == (model.ScopeKeys{}) {
				rec.Scope = c.Scope
			}
			ok, err := tx.UpsertReceived(ctx, rec, e.ids.Generate(), now)
			if err != nil {
				return err
			}
			if ok {
				changed = append(changed, rec)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store %s records: %w", c.ResourceType, err)
	}

	if len(changed) > 0 {
		e.logger.Info("records received", "seq", c.Seq, "resource", c.ResourceType, "changed", len(changed))
	}
	if e.bus != nil {
		for _, rec := range changed {
			e.bus.Publish(notify.Change{
				Type:       notify.ChangeRecord,
				Scope:      rec.Scope,
				RecordKind: rec.Kind,
				Status:     model.StatusSynced,
			})
		}
	}
	return nil
}
