// Package session is the sync coordinator: the object a UI holds between
// login and logout.
//
// A Session owns the local store, the change bus, the online flag and the
// engine. Open recovers records a previous process left in flight; Close
// tears everything down. Scope selection maps onto engine polling groups.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/outbox"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
)

// StateScope is the engine_state key holding the selected scope.
const StateScope = "scope"

var (
	// ErrNoIncident is returned when a room is selected before an incident.
	ErrNoIncident = errors.New("no incident selected")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Session is an explicitly owned sync context with a start (Open) and a
// teardown (Close).
type Session struct {
	store      *store.Store
	bus        *notify.Bus
	settings   *config.Settings
	register   *outbox.Register
	reconciler *reconcile.Reconciler
	engine     *engine.Engine
	logger     *slog.Logger

	mu     sync.Mutex
	scope  model.ScopeKeys
	closed bool
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	engineOpts []engine.Option
	ids        model.IDGenerator
	clock      engine.Clock
	logger     *slog.Logger
}

// WithEngineOptions passes options through to engine.New.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *openOptions) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WithIDGenerator sets the local id source. Default: UUIDv7Generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(o *openOptions) { o.ids = g }
}

// WithClock sets the clock used for record timestamps and by the engine.
func WithClock(c engine.Clock) Option {
	return func(o *openOptions) { o.clock = c }
}

// WithLogger sets the logger for every component. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// Open starts a session against the store at cfg.Store.Path.
//
// Records found in an in-flight state are re-queued before anything else
// runs: their requests died with the previous process. The previously
// selected scope and the online flag are restored; polling is not started
// until Start or Resume.
func Open(ctx context.Context, cfg config.Config, t engine.Transport, opts ...Option) (*Session, error) {
	o := openOptions{
		ids:    model.UUIDv7Generator{},
		clock:  engine.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(cfg.Store.Path, store.WithDriver(cfg.Store.Driver))
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s, err := assemble(ctx, st, cfg, t, o)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

func assemble(ctx context.Context, st *store.Store, cfg config.Config, t engine.Transport, o openOptions) (*Session, error) {
	bus := notify.NewBus(o.logger)
	settings := config.NewSettings(cfg)
	register := outbox.New(st, bus, o.ids, outbox.WithClock(o.clock.Now), outbox.WithLogger(o.logger))
	reconciler := reconcile.New(st, bus, o.logger)

	if _, err := register.ResetInFlight(ctx); err != nil {
		return nil, err
	}

	online, err := loadOnline(ctx, st)
	if err != nil {
		return nil, err
	}
	scope, err := loadScope(ctx, st, o.logger)
	if err != nil {
		return nil, err
	}

	engineOpts := append([]engine.Option{
		engine.WithClock(o.clock),
		engine.WithOnlineFlag(engine.NewOnlineFlag(online)),
		engine.WithBus(bus),
		engine.WithIDGenerator(o.ids),
		engine.WithLogger(o.logger),
	}, o.engineOpts...)
	eng := engine.New(st, register, reconciler, t, settings, engineOpts...)
	if err := eng.LoadState(ctx); err != nil {
		return nil, err
	}
	eng.SetScope(scope)
	eng.SetSessionActive(true)

	o.logger.Info("session opened", "scope", scope.String(), "online", online)
	return &Session{
		store:      st,
		bus:        bus,
		settings:   settings,
		register:   register,
		reconciler: reconciler,
		engine:     eng,
		logger:     o.logger,
		scope:      scope,
	}, nil
}

// Close stops polling, closes observer channels and the store.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.SetSessionActive(false)
	s.engine.Shutdown()
	s.engine.Wait()
	s.bus.Close()
	s.logger.Info("session closed")
	return s.store.Close()
}

// Store returns the session's store.
func (s *Session) Store() *store.Store { return s.store }

// Bus returns the change bus UI observers subscribe to.
func (s *Session) Bus() *notify.Bus { return s.bus }

// Engine returns the poll engine.
func (s *Session) Engine() *engine.Engine { return s.engine }

// Settings returns the runtime settings.
func (s *Session) Settings() *config.Settings { return s.settings }

// Reconciler returns the layer reconciler.
func (s *Session) Reconciler() *reconcile.Reconciler { return s.reconciler }

// Online reports the session online flag.
func (s *Session) Online() bool { return s.engine.Online().Online() }

// Scope returns the selected scope.
func (s *Session) Scope() model.ScopeKeys {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Run runs the engine's apply loop until ctx is cancelled or the session
// is closed.
func (s *Session) Run(ctx context.Context) error {
	return s.engine.Run(ctx)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func loadOnline(ctx context.Context, st *store.Store) (bool, error) {
	value, ok, err := st.GetState(ctx, engine.StateOnline)
	if err != nil || !ok {
		return true, err
	}
	online, err := strconv.ParseBool(value)
	if err != nil {
		return true, nil
	}
	return online, nil
}

func loadScope(ctx context.Context, st *store.Store, logger *slog.Logger) (model.ScopeKeys, error) {
	value, ok, err := st.GetState(ctx, StateScope)
	if err != nil || !ok {
		return model.ScopeKeys{}, err
	}
	var scope model.ScopeKeys
	if err := json.Unmarshal([]byte(value), &scope); err != nil {
		logger.Warn("ignoring malformed stored scope", "value", value, "error", err)
		return model.ScopeKeys{}, nil
	}
	return scope, nil
}

// Drain waits for started requests and applies their outcomes on the
// caller's goroutine. One-shot callers use it instead of Run.
func (s *Session) Drain(ctx context.Context) error {
	return s.engine.Drain(ctx)
}
