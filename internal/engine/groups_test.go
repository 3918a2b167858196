package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/model"
)

func TestGroups_CollabroomStopLeavesIncidentTimers(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Start(ctx, GroupIncident))
	require.NoError(t, rig.engine.Start(ctx, GroupCollabroom))
	assert.Equal(t, 9, rig.sched.Live())

	require.NoError(t, rig.engine.Stop(ctx, GroupCollabroom))
	rig.drain(t)

	assert.Equal(t, []model.ResourceType{
		model.ResourceAlerts,
		model.ResourceCollabrooms,
		model.ResourceTrackingLayers,
	}, rig.engine.Poller().Armed())
	assert.Equal(t, 3, rig.sched.Live())
	assert.True(t, rig.engine.IsArmed(GroupIncident))
	assert.False(t, rig.engine.IsArmed(GroupCollabroom))
}

func TestGroups_StopNeverCancelsSharedTimer(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Start(ctx, GroupAll))
	require.NoError(t, rig.engine.Start(ctx, GroupIncident))
	require.NoError(t, rig.engine.Stop(ctx, GroupAll))
	rig.drain(t)

	assert.Equal(t, []Group{GroupIncident}, rig.engine.Owners(model.ResourceAlerts))
	assert.Empty(t, rig.engine.Owners(model.ResourceMapMarkup))
	assert.ElementsMatch(t, GroupIncident.Members(), rig.engine.Poller().Armed())
}

func TestGroups_StopIsNoOpWhenNotArmed(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Stop(ctx, GroupCollabroom))

	require.NoError(t, rig.engine.Start(ctx, GroupServer))
	require.NoError(t, rig.engine.Stop(ctx, GroupServer))
	require.NoError(t, rig.engine.Stop(ctx, GroupServer))
	rig.drain(t)

	assert.Equal(t, 0, rig.sched.Live())
	assert.Empty(t, rig.engine.ArmedGroups())
}

func TestGroups_StartFiresNewTasksOnce(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Start(ctx, GroupServer))
	require.NoError(t, rig.engine.Start(ctx, GroupServer))
	rig.drain(t)

	assert.Equal(t, 1, rig.transport.fetchCount(model.ResourceIncidents))
	assert.Equal(t, 1, rig.transport.fetchCount(model.ResourceOrganizations))
	assert.Equal(t, 2, rig.sched.Live())
}

func TestGroups_SharedTypeDoesNotFireAgain(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Start(ctx, GroupIncident))
	require.NoError(t, rig.engine.Start(ctx, GroupAll))
	rig.drain(t)

	assert.Equal(t, 1, rig.transport.fetchCount(model.ResourceAlerts), "already armed by incident")
	assert.Equal(t, 1, rig.transport.fetchCount(model.ResourceMapMarkup))
}

func TestGroups_IntervalIsShortestOwner(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Rates.IncidentSeconds = 60
	cfg.Rates.CollabroomSeconds = 30
	rig := newTestRig(t, cfg)
	p := rig.engine.Poller()

	require.NoError(t, rig.engine.Start(ctx, GroupAll))
	interval, _ := p.Interval(model.ResourceGeneralMessages)
	assert.Equal(t, 60*time.Second, interval, "full group polls general messages at the incident rate")

	require.NoError(t, rig.engine.Start(ctx, GroupCollabroom))
	interval, _ = p.Interval(model.ResourceGeneralMessages)
	assert.Equal(t, 30*time.Second, interval)

	require.NoError(t, rig.engine.Stop(ctx, GroupCollabroom))
	interval, ok := p.Interval(model.ResourceGeneralMessages)
	assert.True(t, ok)
	assert.Equal(t, 60*time.Second, interval)
	rig.drain(t)
}

func TestGroups_DisabledTypeNotArmed(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Disabled = []string{"chat_presence"}
	rig := newTestRig(t, cfg)

	require.NoError(t, rig.engine.Start(ctx, GroupCollabroom))
	rig.drain(t)

	assert.NotContains(t, rig.engine.Poller().Armed(), model.ResourceChatPresence)
	assert.Equal(t, 0, rig.transport.fetchCount(model.ResourceChatPresence))
	assert.Len(t, rig.engine.Poller().Armed(), 5)
}

func TestGroups_LowDataMode(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.LowDataMode = true
	rig := newTestRig(t, cfg)
	p := rig.engine.Poller()

	require.NoError(t, rig.engine.Start(ctx, GroupCollabroom))
	rig.drain(t)

	interval, _ := p.Interval(model.ResourceMapMarkup)
	assert.Equal(t, 120*time.Second, interval)
	interval, _ = p.Interval(model.ResourceCollabroomLayers)
	assert.Equal(t, 120*time.Second, interval)
	interval, _ = p.Interval(model.ResourceChatPresence)
	assert.Equal(t, 240*time.Second, interval)
}

func TestGroups_SettingsChangeRefreshes(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Start(ctx, GroupIncident))
	require.NoError(t, rig.settings.Update(func(c *config.Config) { c.Rates.IncidentSeconds = 90 }))
	rig.drain(t)

	interval, ok := rig.engine.Poller().Interval(model.ResourceAlerts)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, interval)
	assert.Equal(t, 3, rig.sched.Live())
}

func TestGroups_RefreshIgnoresUnarmed(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Refresh(ctx, GroupCollabroom))
	assert.False(t, rig.engine.IsArmed(GroupCollabroom))
	assert.Equal(t, 0, rig.sched.Live())
}

func TestGroups_PersistAndRestore(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	require.NoError(t, rig.engine.Start(ctx, GroupServer))
	require.NoError(t, rig.engine.Start(ctx, GroupIncident))
	rig.drain(t)

	value, ok, err := rig.store.GetState(ctx, StateArmedGroups)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "incident,server", value)

	next := newRigOnStore(t, rig.store, config.Default())
	groups, err := next.engine.Restore(ctx)
	require.NoError(t, err)
	next.drain(t)

	assert.Equal(t, []Group{GroupIncident, GroupServer}, groups)
	assert.Equal(t, []Group{GroupIncident, GroupServer}, next.engine.ArmedGroups())
}

func TestGroups_UnknownGroup(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, config.Default())

	assert.ErrorIs(t, rig.engine.Start(ctx, Group("weather")), ErrUnknownGroup)
	assert.ErrorIs(t, rig.engine.Stop(ctx, Group("weather")), ErrUnknownGroup)

	_, err := ParseGroup("weather")
	assert.ErrorIs(t, err, ErrUnknownGroup)

	g, err := ParseGroup(" Collabroom ")
	require.NoError(t, err)
	assert.Equal(t, GroupCollabroom, g)
}

func TestGroups_EncodeDecode(t *testing.T) {
	encoded := encodeGroups(map[Group]bool{GroupServer: true, GroupAll: true, GroupIncident: false})
	assert.Equal(t, "all,server", encoded)
	assert.Equal(t, []Group{GroupAll, GroupServer}, decodeGroups(encoded))
	assert.Empty(t, decodeGroups(""))
	assert.Equal(t, []Group{GroupServer}, decodeGroups("bogus,server"))
}

func TestIntervalFor(t *testing.T) {
	rates := config.Default().PollRates()
	rates.Collabroom = 15 * time.Second
	rates.Incident = 45 * time.Second
	rates.WFS = 20 * time.Second

	tests := []struct {
		group Group
		rt    model.ResourceType
		want  time.Duration
	}{
		{GroupCollabroom, model.ResourceMapMarkup, 15 * time.Second},
		{GroupCollabroom, model.ResourceGeneralMessages, 15 * time.Second},
		{GroupAll, model.ResourceGeneralMessages, 45 * time.Second},
		{GroupAll, model.ResourceEODReports, 45 * time.Second},
		{GroupIncident, model.ResourceCollabrooms, 15 * time.Second},
		{GroupIncident, model.ResourceAlerts, 45 * time.Second},
		{GroupServer, model.ResourceOrganizations, 45 * time.Second},
		{GroupIncident, model.ResourceTrackingLayers, 20 * time.Second},
		{GroupCollabroom, model.ResourceCollabroomLayers, 20 * time.Second},
		{GroupCollabroom, model.ResourceChatPresence, 240 * time.Second},
	}
	for _, tt := range tests {
		t.Run(string(tt.group)+"/"+string(tt.rt), func(t *testing.T) {
			assert.Equal(t, tt.want, IntervalFor(tt.group, tt.rt, rates))
		})
	}
}
