package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

func TestInspect_FreshDatabase(t *testing.T) {
	h := newHarness(t)
	st, err := store.Open(h.cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()

	snap, err := Inspect(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, snap.Online)
	assert.Nil(t, snap.LastContact)
	assert.Empty(t, snap.Armed)
	assert.Empty(t, snap.Records)
	assert.Equal(t, model.ScopeKeys{}, snap.Scope)
}

func TestInspect_AfterSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s := h.open(t)
	require.NoError(t, s.SelectIncident(ctx, 1))
	_, err := s.Submit(ctx, draft("one"))
	require.NoError(t, err)
	_, err = s.Submit(ctx, draft("two"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	st, err := store.Open(h.cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()

	snap, err := Inspect(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, model.ScopeKeys{IncidentID: 1}, snap.Scope)
	assert.Equal(t, []engine.Group{engine.GroupIncident}, snap.Armed)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, model.KindChat, snap.Records[0].Kind)
	assert.Equal(t, model.StatusSendPending, snap.Records[0].Status)
	assert.Equal(t, int64(2), snap.Records[0].Count)
}
