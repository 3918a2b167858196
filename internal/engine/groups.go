package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// Start arms every enabled member of g. Starting an armed group is a no-op.
//
// A type already armed by another group keeps its timer; its interval
// becomes the shortest any owner asks for. A type armed for the first time
// fires immediately.
func (e *Engine) Start(ctx context.Context, g Group) error {
	if _, ok := groupMembers[g]; !ok {
		return fmt.Errorf("start: %w: %q", ErrUnknownGroup, g)
	}

	e.groupMu.Lock()
	if e.armed[g] {
		e.groupMu.Unlock()
		return nil
	}
	e.armed[g] = true
	rates := e.rates()
	for _, rt := range g.Members() {
		if !rates.Enabled(rt) {
			e.logger.Debug("resource disabled, not armed", "group", g, "resource", rt)
			continue
		}
		if e.owners[rt] == nil {
			e.owners[rt] = make(map[Group]bool)
		}
		e.owners[rt][g] = true
		e.armLocked(rt, rates)
	}
	err := e.persistArmed(ctx, encodeGroups(e.armed))
	e.groupMu.Unlock()

	e.logger.Info("polling started", "group", g)
	return err
}

// Stop cancels the timers g armed that no other armed group still owns.
// Stopping a group that is not armed is a no-op.
func (e *Engine) Stop(ctx context.Context, g Group) error {
	if _, ok := groupMembers[g]; !ok {
		return fmt.Errorf("stop: %w: %q", ErrUnknownGroup, g)
	}

	e.groupMu.Lock()
	if !e.armed[g] {
		e.groupMu.Unlock()
		return nil
	}
	delete(e.armed, g)
	rates := e.rates()
	for _, rt := range g.Members() {
		owners := e.owners[rt]
		if !owners[g] {
			continue
		}
		delete(owners, g)
		if len(owners) == 0 {
			delete(e.owners, rt)
			e.poller.Cancel(rt)
			continue
		}
		e.armLocked(rt, rates)
	}
	err := e.persistArmed(ctx, encodeGroups(e.armed))
	e.groupMu.Unlock()

	e.logger.Info("polling stopped", "group", g)
	return err
}

// Refresh re-arms g if it is armed: stop, then start. Types g shares with
// another armed group keep their timer and only pick up a new interval.
func (e *Engine) Refresh(ctx context.Context, g Group) error {
	if !e.IsArmed(g) {
		return nil
	}
	if err := e.Stop(ctx, g); err != nil {
		return err
	}
	return e.Start(ctx, g)
}

// RefreshArmed refreshes every armed group. Registered as the settings
// change listener.
func (e *Engine) RefreshArmed(ctx context.Context) error {
	for _, g := range e.ArmedGroups() {
		if err := e.Refresh(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// Restore starts the groups persisted in engine_state by a previous
// session. Reports which groups were started.
func (e *Engine) Restore(ctx context.Context) ([]Group, error) {
	groups, err := PersistedGroups(ctx, e.store)
	if err != nil {
		return nil, fmt.Errorf("restore armed groups: %w", err)
	}
	for _, g := range groups {
		if err := e.Start(ctx, g); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// PersistedGroups reads the armed groups a session left in engine_state,
// in AllGroups order.
func PersistedGroups(ctx context.Context, st *store.Store) ([]Group, error) {
	value, ok, err := st.GetState(ctx, StateArmedGroups)
	if err != nil || !ok {
		return nil, err
	}
	stored := make(map[Group]bool)
	for _, g := range decodeGroups(value) {
		stored[g] = true
	}
	var groups []Group
	for _, g := range AllGroups() {
		if stored[g] {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// IsArmed reports whether g is started.
func (e *Engine) IsArmed(g Group) bool {
	e.groupMu.Lock()
	defer e.groupMu.Unlock()
	return e.armed[g]
}

// ArmedGroups lists the started groups in AllGroups order.
func (e *Engine) ArmedGroups() []Group {
	e.groupMu.Lock()
	defer e.groupMu.Unlock()
	var groups []Group
	for _, g := range AllGroups() {
		if e.armed[g] {
			groups = append(groups, g)
		}
	}
	return groups
}

// Owners lists the armed groups holding rt's timer.
func (e *Engine) Owners(rt model.ResourceType) []Group {
	e.groupMu.Lock()
	defer e.groupMu.Unlock()
	var groups []Group
	for _, g := range AllGroups() {
		if e.owners[rt][g] {
			groups = append(groups, g)
		}
	}
	return groups
}

// FireOnce fires rt outside any group, e.g. the overlapping room layers
// when a room is selected.
func (e *Engine) FireOnce(rt model.ResourceType) {
	e.poller.FireOnce(rt)
}

// armLocked schedules rt at the shortest interval its owners ask for, or
// adjusts a live timer to it. Callers hold groupMu.
func (e *Engine) armLocked(rt model.ResourceType, rates config.Rates) {
	var interval time.Duration
	for g := range e.owners[rt] {
		d := IntervalFor(g, rt, rates)
		if interval == 0 || d < interval {
			interval = d
		}
	}

	if _, live := e.poller.Interval(rt); live {
		e.poller.Reschedule(rt, interval)
		return
	}
	e.poller.Schedule(rt, interval, true)
}

// onRatesChanged re-arms everything that depends on the poll rates.
func (e *Engine) onRatesChanged(config.Rates) {
	if err := e.RefreshArmed(context.Background()); err != nil {
		e.logger.Warn("refresh after settings change failed", "error", err)
	}

	e.mu.Lock()
	running := e.watchdogStop != nil
	e.mu.Unlock()
	if running {
		e.StartWatchdog()
	}
}

func (e *Engine) rates() config.Rates {
	if e.settings == nil {
		return config.Default().PollRates()
	}
	return e.settings.Rates()
}

func (e *Engine) persistArmed(ctx context.Context, armed string) error {
	if err := e.store.SetState(ctx, StateArmedGroups, armed); err != nil {
		return fmt.Errorf("persist armed groups: %w", err)
	}
	return nil
}
