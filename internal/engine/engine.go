package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/outbox"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
)

// engine_state keys.
const (
	StateLastContact = "last_contact"
	StateArmedGroups = "armed_groups"
	StateOnline      = "online"
)

// Engine is the poll scheduler and its single-writer apply loop.
//
// Timer fires run on scheduler goroutines: they claim queued records and
// start requests, each on its own goroutine. Outcomes travel over the
// completion queue to Run, which applies them one at a time.
//
// Thread-safety model:
//   - Start/Stop/Refresh, SetScope, FireOnce, Shutdown: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Drain: only while Run is not running
type Engine struct {
	store      *store.Store
	register   *outbox.Register
	reconciler *reconcile.Reconciler
	transport  Transport
	settings   *config.Settings

	sched  Scheduler
	clock  Clock
	conn   Connectivity
	holds  HoldProvider
	online *OnlineFlag
	bus    *notify.Bus
	ids    model.IDGenerator
	logger *slog.Logger

	queue    *completionQueue
	seq      Sequence
	poller   *Poller
	inflight sync.WaitGroup

	// groupMu guards the group ownership tables. It is taken before the
	// poller's lock, never after.
	groupMu sync.Mutex
	armed   map[Group]bool
	owners  map[model.ResourceType]map[Group]bool

	mu           sync.Mutex
	scope        model.ScopeKeys
	active       bool
	busy         map[workerKey]bool
	lastContact  time.Time
	watchdogStop func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler sets the timer source. Default: TickerScheduler.
func WithScheduler(s Scheduler) Option { return func(e *Engine) { e.sched = s } }

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithConnectivity sets the device connectivity hook. Default: AlwaysConnected.
func WithConnectivity(c Connectivity) Option { return func(e *Engine) { e.conn = c } }

// WithHolds sets the execution hold provider. Default: CountingHolds.
func WithHolds(h HoldProvider) Option { return func(e *Engine) { e.holds = h } }

// WithOnlineFlag shares a session-owned online flag. Default: a fresh flag
// that starts online.
func WithOnlineFlag(f *OnlineFlag) Option { return func(e *Engine) { e.online = f } }

// WithBus sets the change bus for online flips and received records.
func WithBus(b *notify.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithIDGenerator sets the local id source for received records.
// Default: UUIDv7Generator.
func WithIDGenerator(g model.IDGenerator) Option { return func(e *Engine) { e.ids = g } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an engine. Nothing is armed until Start.
func New(
	s *store.Store,
	reg *outbox.Register,
	rec *reconcile.Reconciler,
	t Transport,
	settings *config.Settings,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      s,
		register:   reg,
		reconciler: rec,
		transport:  t,
		settings:   settings,
		sched:      TickerScheduler{},
		clock:      SystemClock{},
		conn:       AlwaysConnected,
		holds:      &CountingHolds{},
		ids:        model.UUIDv7Generator{},
		logger:     slog.Default(),
		queue:      newCompletionQueue(),
		armed:      make(map[Group]bool),
		owners:     make(map[model.ResourceType]map[Group]bool),
		busy:       make(map[workerKey]bool),
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.online == nil {
		e.online = NewOnlineFlag(true)
	}
	e.poller = NewPoller(e.sched, e.fire, e.logger)
	if settings != nil {
		settings.OnChange(e.onRatesChanged)
	}
	return e
}

// Poller exposes the per-type timers.
func (e *Engine) Poller() *Poller {
	return e.poller
}

// Online returns the session online flag.
func (e *Engine) Online() *OnlineFlag {
	return e.online
}

// SetScope changes the scope future fires use. Requests already started
// keep the scope they were started with.
func (e *Engine) SetScope(scope model.ScopeKeys) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scope = scope
}

// Scope returns the current scope.
func (e *Engine) Scope() model.ScopeKeys {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// SetSessionActive enables or disables fires. Timers stay armed.
func (e *Engine) SetSessionActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = active
}

// LoadState restores last contact from engine_state. A missing value is
// treated as contact at now, so a fresh install is not demoted before it
// has had a chance to reach the server.
func (e *Engine) LoadState(ctx context.Context) error {
	value, ok, err := e.store.GetState(ctx, StateLastContact)
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	last := e.clock.Now()
	if ok {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			e.logger.Warn("ignoring malformed last contact", "value", value, "error", err)
		} else {
			last = time.UnixMilli(ms).UTC()
		}
	}

	e.mu.Lock()
	e.lastContact = last
	e.mu.Unlock()
	return nil
}

// LastContact returns the time of the last successful request.
func (e *Engine) LastContact() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastContact
}

// Run starts the single-writer apply loop.
// Blocks until ctx is cancelled or Shutdown is called.
//
// ERROR HANDLING: a completion that fails to apply is logged and skipped.
// The affected record stays in a state the next fire or the next session
// start recovers from.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		c, ok := e.queue.TryDequeue()
		if ok {
			if err := e.apply(ctx, c); err != nil {
				logCompletionError(e.logger, c, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// A stale signal from an item already dequeued also lands here;
			// only a closed, empty queue ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain waits for every started request to finish and applies all queued
// completions on the caller's goroutine. Used by tests and one-shot CLI
// commands instead of Run.
func (e *Engine) Drain(ctx context.Context) error {
	e.inflight.Wait()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, ok := e.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := e.apply(ctx, c); err != nil {
			logCompletionError(e.logger, c, err)
		}
	}
}

// Wait blocks until every started request has enqueued its completion.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Shutdown cancels every timer, stops the watchdog and closes the
// completion queue, which makes Run return. Requests already started still
// finish; their completions are dropped. Armed groups stay persisted for
// Restore.
func (e *Engine) Shutdown() {
	e.StopWatchdog()
	e.poller.CancelAll()

	e.groupMu.Lock()
	e.armed = make(map[Group]bool)
	e.owners = make(map[model.ResourceType]map[Group]bool)
	e.groupMu.Unlock()

	e.queue.Close()
}

// QueueLen returns the number of completions waiting to be applied.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// recordContact notes a successful request and promotes the online flag.
func (e *Engine) recordContact(ctx context.Context, at time.Time) {
	e.mu.Lock()
	if at.After(e.lastContact) {
		e.lastContact = at
	}
	last := e.lastContact
	e.mu.Unlock()

	if err := e.store.SetState(ctx, StateLastContact, strconv.FormatInt(last.UnixMilli(), 10)); err != nil {
		e.logger.Warn("persist last contact failed", "error", err)
	}
	if e.setOnline(ctx, true) {
		e.logger.Info("server reachable again, back online")
	}
}

// setOnline flips the online flag, persists it and notifies observers.
// Reports whether the flag changed.
func (e *Engine) setOnline(ctx context.Context, online bool) bool {
	if !e.online.Set(online) {
		return false
	}
	if err := e.store.SetState(ctx, StateOnline, strconv.FormatBool(online)); err != nil {
		e.logger.Warn("persist online flag failed", "error", err)
	}
	if e.bus != nil {
		e.bus.Publish(notify.Change{Type: notify.ChangeOnline, Online: online})
	}
	return true
}

func logCompletionError(logger *slog.Logger, c Completion, err error) {
	attrs := []any{
		"seq", c.Seq,
		"type", c.Type.String(),
		"resource", c.ResourceType,
		"scope", c.Scope.String(),
		"error", err,
	}
	if c.Type == CompletionPush {
		attrs = append(attrs, "local_id", c.Attempt.Record.LocalID, "op", c.Attempt.Op.String())
	}
	logger.Error("completion not applied", attrs...)
}
