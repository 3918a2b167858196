package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/notify"
	"github.com/roach88/fieldsync/internal/outbox"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testScope = model.ScopeKeys{IncidentID: 1, CollabroomID: 10}

// fakeTransport records calls and answers from canned results.
type fakeTransport struct {
	mu       sync.Mutex
	fetched  []model.ResourceType
	pushed   []model.SyncableRecord
	results  map[model.ResourceType]FetchResult
	fetchErr error
	pushErr  error
	serverID int64

	// gate, when set, blocks Push until it is closed.
	gate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		results:  make(map[model.ResourceType]FetchResult),
		serverID: 100,
	}
}

func (f *fakeTransport) Fetch(_ context.Context, rt model.ResourceType, _ model.ScopeKeys) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rt)
	if f.fetchErr != nil {
		return FetchResult{}, f.fetchErr
	}
	return f.results[rt], nil
}

func (f *fakeTransport) Push(ctx context.Context, rec model.SyncableRecord) (PushAck, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return PushAck{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, rec)
	if f.pushErr != nil {
		return PushAck{}, f.pushErr
	}
	if rec.Status == model.StatusSendInFlight {
		f.serverID++
		id := f.serverID
		return PushAck{ServerID: &id}, nil
	}
	return PushAck{}, nil
}

func (f *fakeTransport) setResult(rt model.ResourceType, r FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[rt] = r
}

func (f *fakeTransport) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeTransport) setPushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = err
}

func (f *fakeTransport) fetchCount(rt model.ResourceType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, got := range f.fetched {
		if got == rt {
			n++
		}
	}
	return n
}

func (f *fakeTransport) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

// testRig wires an engine to a temp store, a virtual scheduler and a fake
// transport. The session is active and scoped to testScope.
type testRig struct {
	engine    *Engine
	store     *store.Store
	register  *outbox.Register
	clock     *testutil.VirtualClock
	sched     *testutil.VirtualScheduler
	transport *fakeTransport
	conn      *SwitchableConnectivity
	holds     *CountingHolds
	settings  *config.Settings
	bus       *notify.Bus
}

func newTestRig(t *testing.T, cfg config.Config) *testRig {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return newRigOnStore(t, s, cfg)
}

func newRigOnStore(t *testing.T, s *store.Store, cfg config.Config) *testRig {
	t.Helper()

	clock := testutil.NewVirtualClock(testEpoch)
	bus := notify.NewBus(nil)
	r := &testRig{
		store:     s,
		register:  outbox.New(s, bus, model.UUIDv7Generator{}, outbox.WithClock(clock.Now)),
		clock:     clock,
		sched:     testutil.NewVirtualScheduler(clock),
		transport: newFakeTransport(),
		conn:      NewSwitchableConnectivity(true),
		holds:     &CountingHolds{},
		settings:  config.NewSettings(cfg),
		bus:       bus,
	}
	r.engine = New(s, r.register, reconcile.New(s, bus, nil), r.transport, r.settings,
		WithScheduler(r.sched),
		WithClock(clock),
		WithConnectivity(r.conn),
		WithHolds(r.holds),
		WithBus(bus),
	)
	// Each virtual tick waits for the previous worker, so a long Advance
	// never lands on a busy resource type.
	r.sched.SetBeforeFire(r.engine.Wait)
	r.engine.SetScope(testScope)
	r.engine.SetSessionActive(true)
	require.NoError(t, r.engine.LoadState(context.Background()))
	t.Cleanup(r.engine.Shutdown)
	return r
}

// advance moves virtual time and applies everything the fires produced.
func (r *testRig) advance(t *testing.T, d time.Duration) {
	t.Helper()
	r.sched.Advance(d)
	r.drain(t)
}

func (r *testRig) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, r.engine.Drain(context.Background()))
}

func (r *testRig) submit(t *testing.T, kind model.RecordKind, text string) model.SyncableRecord {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"text": text})
	require.NoError(t, err)
	rec, err := r.register.Submit(context.Background(), model.Draft{Kind: kind, Scope: testScope, Payload: payload})
	require.NoError(t, err)
	return rec
}

func (r *testRig) record(t *testing.T, localID string) model.SyncableRecord {
	t.Helper()
	rec, err := r.store.GetRecord(context.Background(), localID)
	require.NoError(t, err)
	return rec
}

func testLayer(id string, label string) model.LayeredResource {
	return model.LayeredResource{
		ID:          id,
		Kind:        model.LayerCollabroom,
		Scope:       testScope,
		DisplayName: "Layer " + id,
		Features: []model.ChildFeature{
			{FeatureID: id + "-a", Type: "point", LabelText: label, Coordinates: []model.LatLng{{Lat: 34.1, Lng: -118.2}}},
		},
	}
}

func attemptFor(localID string) outbox.Attempt {
	return outbox.Attempt{
		Record: model.SyncableRecord{LocalID: localID, Kind: model.KindChat, Status: model.StatusSendInFlight},
		Op:     model.OpCreate,
	}
}
