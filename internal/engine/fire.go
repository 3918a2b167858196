package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/outbox"
)

// fire runs one tick of rt.
//
// A fire is skipped when the device has no network, no session is active,
// the scope lacks the incident or room rt needs, or the previous worker for
// rt in the same scope has not finished. Otherwise it acquires an
// execution hold and starts a worker that pushes the queued records of rt's
// kind, then fetches rt. The hold is released once the worker has enqueued
// every completion, whatever the outcome.
func (e *Engine) fire(rt model.ResourceType) {
	if !e.conn.Connected() {
		e.logger.Debug("fire skipped: no connectivity", "resource", rt)
		return
	}

	e.mu.Lock()
	scope, active := e.scope, e.active
	e.mu.Unlock()

	if !active {
		e.logger.Debug("fire skipped: no active session", "resource", rt)
		return
	}
	if (rt.NeedsIncident() && !scope.HasIncident()) || (rt.NeedsRoom() && !scope.HasRoom()) {
		e.logger.Debug("fire skipped: scope not selected", "resource", rt, "scope", scope.String())
		return
	}

	key := workerKey{rt: rt, scope: scope}
	e.mu.Lock()
	busy := e.busy[key]
	e.busy[key] = true
	e.mu.Unlock()
	if busy {
		e.logger.Debug("fire skipped: previous worker still running", "resource", rt)
		return
	}

	timeout := e.holdTimeout()
	hold := e.holds.Acquire(timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer e.setIdle(key)
		defer hold.Release()
		defer cancel()
		e.work(ctx, rt, scope)
	}()
}

// workerKey identifies the records a worker claims: one kind in one scope.
type workerKey struct {
	rt    model.ResourceType
	scope model.ScopeKeys
}

func (e *Engine) setIdle(key workerKey) {
	e.mu.Lock()
	delete(e.busy, key)
	e.mu.Unlock()
}

// work claims and pushes the queued records of rt's kind concurrently,
// then fetches rt.
func (e *Engine) work(ctx context.Context, rt model.ResourceType, scope model.ScopeKeys) {
	var attempts []outbox.Attempt
	if kind, ok := rt.RecordKind(); ok {
		claimed, err := e.register.ClaimPending(ctx, kind, scope)
		if err != nil {
			e.logger.Warn("claim pending failed", "resource", rt, "error", err)
		}
		attempts = claimed
	}

	var wg sync.WaitGroup
	for _, a := range attempts {
		wg.Add(1)
		go func(a outbox.Attempt) {
			defer wg.Done()
			e.push(ctx, rt, scope, a)
		}(a)
	}
	wg.Wait()

	e.fetch(ctx, rt, scope)
}

func (e *Engine) push(ctx context.Context, rt model.ResourceType, scope model.ScopeKeys, a outbox.Attempt) {
	ack, err := e.transport.Push(ctx, a.Record)
	if err != nil {
		err = &RequestError{Code: ErrCodePushFailed, ResourceType: rt, LocalID: a.Record.LocalID, Err: err}
	}
	e.enqueue(Completion{
		Type:         CompletionPush,
		ResourceType: rt,
		Scope:        scope,
		Attempt:      a,
		Ack:          ack,
		Err:          err,
	})
}

func (e *Engine) fetch(ctx context.Context, rt model.ResourceType, scope model.ScopeKeys) {
	result, err := e.transport.Fetch(ctx, rt, scope)
	if err != nil {
		err = &RequestError{Code: ErrCodeFetchFailed, ResourceType: rt, Err: err}
	}
	e.enqueue(Completion{
		Type:         CompletionFetch,
		ResourceType: rt,
		Scope:        scope,
		Result:       result,
		Err:          err,
	})
}

func (e *Engine) enqueue(c Completion) {
	c.Seq = e.seq.Next()
	c.At = e.clock.Now()
	if !e.queue.Enqueue(c) {
		e.logger.Debug("completion dropped: engine stopped", "type", c.Type.String(), "resource", c.ResourceType)
	}
}

func (e *Engine) holdTimeout() time.Duration {
	if e.settings == nil {
		return DefaultHoldTimeout
	}
	if d := e.settings.Config().HoldTimeout(); d > 0 {
		return d
	}
	return DefaultHoldTimeout
}
