package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/model"
)

func TestEngine_RunAppliesCompletions(t *testing.T) {
	rig := newTestRig(t, config.Default())
	rec := rig.submit(t, model.KindGeneralMessage, "all units")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.engine.Run(ctx) }()

	require.NoError(t, rig.engine.Start(ctx, GroupCollabroom))

	assert.Eventually(t, func() bool {
		got, err := rig.store.GetRecord(context.Background(), rec.LocalID)
		return err == nil && got.Status == model.StatusSynced
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestEngine_RunOutlivesDrainedQueue(t *testing.T) {
	rig := newTestRig(t, config.Default())

	// The completion is queued before Run starts, so its signal is still
	// buffered when Run has applied it and finds the queue empty.
	rig.engine.FireOnce(model.ResourceIncidents)
	rig.engine.Wait()
	require.Equal(t, 1, rig.engine.QueueLen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rig.engine.Run(ctx) }()

	assert.Eventually(t, func() bool { return rig.engine.QueueLen() == 0 }, time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned while the engine is live: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	rec := rig.submit(t, model.KindChat, "second batch")
	rig.engine.FireOnce(model.ResourceChatMessages)
	assert.Eventually(t, func() bool {
		got, err := rig.store.GetRecord(context.Background(), rec.LocalID)
		return err == nil && got.Status == model.StatusSynced
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestEngine_ShutdownStopsRun(t *testing.T) {
	rig := newTestRig(t, config.Default())

	done := make(chan error, 1)
	go func() { done <- rig.engine.Run(context.Background()) }()

	require.NoError(t, rig.engine.Start(context.Background(), GroupServer))
	rig.engine.StartWatchdog()
	rig.engine.Wait()

	rig.engine.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, 0, rig.sched.Live())
	assert.Empty(t, rig.engine.ArmedGroups())
}

func TestEngine_CompletionsAfterShutdownDropped(t *testing.T) {
	rig := newTestRig(t, config.Default())
	rig.engine.Shutdown()

	rig.engine.FireOnce(model.ResourceIncidents)
	rig.engine.Wait()
	assert.Equal(t, 0, rig.engine.QueueLen())
}

func TestEngine_ApplyUnknownCompletion(t *testing.T) {
	rig := newTestRig(t, config.Default())
	err := rig.engine.apply(context.Background(), Completion{Type: CompletionType(9)})
	require.Error(t, err)
}

func TestEngine_ApplyFailedPushOfMissingRecord(t *testing.T) {
	rig := newTestRig(t, config.Default())

	err := rig.engine.apply(context.Background(), Completion{
		Type:         CompletionPush,
		ResourceType: model.ResourceChatMessages,
		Attempt:      attemptFor("missing"),
		Err:          errors.New("boom"),
	})
	require.Error(t, err, "surfaced to the loop, which logs and continues")
}

func TestEngine_CompletionsStamped(t *testing.T) {
	rig := newTestRig(t, config.Default())

	rig.engine.FireOnce(model.ResourceIncidents)
	rig.engine.Wait()
	rig.engine.FireOnce(model.ResourceOrganizations)
	rig.engine.Wait()

	first, ok := rig.engine.queue.TryDequeue()
	require.True(t, ok)
	second, ok := rig.engine.queue.TryDequeue()
	require.True(t, ok)

	assert.Less(t, first.Seq, second.Seq)
	assert.Equal(t, model.ResourceIncidents, first.ResourceType)
	assert.Equal(t, testEpoch, first.At)
}
