package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/outbox"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

// Epoch is the virtual clock's start time.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// FirstServerID is added to a record's submission ordinal to form the id
// the scripted server assigns on create: the first submitted record gets
// FirstServerID+1.
const FirstServerID = 100

// errServerDown is returned by the scripted server while it is down.
var errServerDown = errors.New("server unavailable")

// Harness drives a real engine against a scripted server with a virtual
// clock and scheduler. Each scenario runs in a fresh in-memory database.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	register *outbox.Register
	server   *server
	sched    *testutil.VirtualScheduler
	conn     *engine.SwitchableConnectivity
	scope    model.ScopeKeys
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Execute steps, draining the engine after each
// 3. Collect the trace and final state
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:", store.WithDriver(cfg.Store.Driver))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, cfg, scenario)
	defer func() {
		h.engine.Shutdown()
		h.engine.Wait()
	}()

	if err := h.engine.LoadState(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := h.engine.Drain(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: drain: %w", i, err)
		}
		result.Trace = append(result.Trace, h.server.takeEvents(i, len(result.Trace))...)
	}

	state, err := h.collectState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect state: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioConfig applies the scenario's config overrides to the defaults.
func scenarioConfig(s *Scenario) (config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

func newHarness(st *store.Store, cfg config.Config, scenario *Scenario) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewVirtualClock(Epoch)
	sched := testutil.NewVirtualScheduler(clock)
	conn := engine.NewSwitchableConnectivity(true)
	ids := &counterIDs{}

	srv := newServer()
	for name, served := range scenario.Served {
		srv.serve(model.ResourceType(name), served)
	}

	reg := outbox.New(st, nil, ids, outbox.WithClock(clock.Now), outbox.WithLogger(logger))
	rec := reconcile.New(st, nil, logger)
	eng := engine.New(st, reg, rec, srv, config.NewSettings(cfg),
		engine.WithScheduler(sched),
		engine.WithClock(clock),
		engine.WithConnectivity(conn),
		engine.WithIDGenerator(ids),
		engine.WithLogger(logger),
	)
	sched.SetBeforeFire(eng.Wait)
	eng.SetScope(scenario.Scope)
	eng.SetSessionActive(true)

	return &Harness{
		store:    st,
		engine:   eng,
		register: reg,
		server:   srv,
		sched:    sched,
		conn:     conn,
		scope:    scenario.Scope,
		logger:   logger,
	}
}

// execute performs one step. Validation already guaranteed exactly one
// action is set.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Submit != nil:
		payload, err := json.Marshal(step.Submit.Payload)
		if err != nil {
			return fmt.Errorf("submit %s: %w", step.Submit.Ref, err)
		}
		kind, err := model.ParseRecordKind(step.Submit.Kind)
		if err != nil {
			return err
		}
		rec, err := h.register.Submit(ctx, model.Draft{
			Kind:    kind,
			Scope:   h.scope,
			Payload: payload,
		})
		if err != nil {
			return err
		}
		h.server.addRef(step.Submit.Ref, rec.LocalID)

	case step.Edit != nil:
		payload, err := json.Marshal(step.Edit.Payload)
		if err != nil {
			return fmt.Errorf("edit %s: %w", step.Edit.Ref, err)
		}
		if _, err := h.register.Edit(ctx, h.server.localID(step.Edit.Ref), payload); err != nil {
			return err
		}

	case step.Delete != "":
		if _, err := h.register.Delete(ctx, h.server.localID(step.Delete)); err != nil {
			return err
		}

	case step.Serve != nil:
		for name, served := range step.Serve {
			h.server.serve(model.ResourceType(name), served)
		}

	case step.Fire != "":
		rt, err := model.ParseResourceType(step.Fire)
		if err != nil {
			return err
		}
		h.engine.FireOnce(rt)

	case step.Start != "":
		g, err := engine.ParseGroup(step.Start)
		if err != nil {
			return err
		}
		return h.engine.Start(ctx, g)

	case step.Stop != "":
		g, err := engine.ParseGroup(step.Stop)
		if err != nil {
			return err
		}
		return h.engine.Stop(ctx, g)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.sched.Advance(d)

	case step.Network != "":
		h.conn.Set(step.Network == "up")

	case step.Server != "":
		h.server.setDown(step.Server == "down")

	case step.Watchdog:
		h.engine.StartWatchdog()
	}
	return nil
}

// collectState reads the final store content in a deterministic order.
func (h *Harness) collectState(ctx context.Context) (State, error) {
	state := State{
		Online:  h.engine.Online().Online(),
		Records: []RecordState{},
		Layers:  []LayerState{},
	}

	records, err := h.store.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		return State{}, err
	}
	for _, r := range records {
		state.Records = append(state.Records, RecordState{
			Ref:      h.server.refOf(r.LocalID),
			Kind:     string(r.Kind),
			ServerID: r.ServerID,
			Status:   r.Status.String(),
		})
	}
	sort.SliceStable(state.Records, func(i, j int) bool {
		a, b := state.Records[i], state.Records[j]
		if (a.Ref == "") != (b.Ref == "") {
			return a.Ref != ""
		}
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return serverID(a.ServerID) < serverID(b.ServerID)
	})

	layers, err := h.store.AllLayers(ctx)
	if err != nil {
		return State{}, err
	}
	for _, l := range layers {
		ls := LayerState{
			Kind:     string(l.Kind),
			Room:     l.Scope.CollabroomID,
			ID:       l.ID,
			Features: len(l.Features),
			Active:   l.Active,
		}
		for _, f := range l.Features {
			if f.Hazard != nil {
				ls.Hazards++
			}
		}
		state.Layers = append(state.Layers, ls)
	}
	sort.SliceStable(state.Layers, func(i, j int) bool {
		a, b := state.Layers[i], state.Layers[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Room != b.Room {
			return a.Room < b.Room
		}
		return a.ID < b.ID
	})
	return state, nil
}

func serverID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// counterIDs generates local ids local-0001, local-0002, ...
type counterIDs struct {
	n atomic.Int64
}

func (c *counterIDs) Generate() string {
	return fmt.Sprintf("local-%04d", c.n.Add(1))
}

// server is the scripted engine.Transport. It records every request.
type server struct {
	mu      sync.Mutex
	served  map[model.ResourceType]Served
	down    bool
	refs    map[string]string // local id -> ref
	locals  map[string]string // ref -> local id
	ordinal map[string]int64  // local id -> submission ordinal
	events  []TraceEvent
}

func newServer() *server {
	return &server{
		served:  make(map[model.ResourceType]Served),
		refs:    make(map[string]string),
		locals:  make(map[string]string),
		ordinal: make(map[string]int64),
	}
}

func (s *server) serve(rt model.ResourceType, served Served) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.served[rt] = served
}

func (s *server) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *server) addRef(ref, localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[localID] = ref
	s.locals[ref] = localID
	s.ordinal[localID] = int64(len(s.locals))
}

func (s *server) localID(ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locals[ref]
}

func (s *server) refOf(localID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[localID]
}

// takeEvents returns the events recorded since the last call, sorted and
// numbered after the offset events already in the trace.
func (s *server) takeEvents(step, offset int) []TraceEvent {
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].sortKey() < events[j].sortKey()
	})
	for i := range events {
		events[i].Step = step
		events[i].Seq = offset + i + 1
	}
	return events
}

// Fetch implements engine.Transport.
func (s *server) Fetch(ctx context.Context, rt model.ResourceType, scope model.ScopeKeys) (engine.FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := TraceEvent{Type: EventFetch, Resource: string(rt)}
	if s.down {
		event.Failed = true
		s.events = append(s.events, event)
		return engine.FetchResult{}, errServerDown
	}
	s.events = append(s.events, event)

	served := s.served[rt]
	result := engine.FetchResult{Layers: served.Layers}
	for _, r := range served.Records {
		kind := model.RecordKind(r.Kind)
		if kind == "" {
			kind, _ = rt.RecordKind()
		}
		recScope := r.Scope
		if recScope == (model.ScopeKeys{}) {
			recScope = scope
		}
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return engine.FetchResult{}, fmt.Errorf("served record %d: %w", r.ServerID, err)
		}
		result.Records = append(result.Records, model.ServerRecord{
			ServerID: r.ServerID,
			Kind:     kind,
			Scope:    recScope,
			Payload:  payload,
		})
	}
	return result, nil
}

// Push implements engine.Transport. Creates are acknowledged with
// FirstServerID plus the record's submission ordinal.
func (s *server) Push(ctx context.Context, rec model.SyncableRecord) (engine.PushAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, _ := rec.Status.Op()
	event := TraceEvent{Type: EventPush, Op: op.String(), Ref: s.refs[rec.LocalID]}
	if s.down {
		event.Failed = true
		s.events = append(s.events, event)
		return engine.PushAck{}, errServerDown
	}

	var ack engine.PushAck
	if op == model.OpCreate {
		id := FirstServerID + s.ordinal[rec.LocalID]
		ack.ServerID = &id
		event.ServerID = &id
	}
	s.events = append(s.events, event)
	return ack, nil
}
