package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestVirtualClock_AdvanceAndSet(t *testing.T) {
	clock := NewVirtualClock(epoch)
	assert.Equal(t, epoch, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), clock.Now())

	clock.Set(epoch.Add(-time.Minute))
	assert.Equal(t, epoch.Add(-time.Minute), clock.Now())
}

func TestVirtualScheduler_FixedRate(t *testing.T) {
	clock := NewVirtualClock(epoch)
	sched := NewVirtualScheduler(clock)

	var at []time.Duration
	sched.ScheduleAtFixedRate(30*time.Second, func() {
		at = append(at, clock.Now().Sub(epoch))
	})

	sched.Advance(29 * time.Second)
	assert.Empty(t, at)

	sched.Advance(61 * time.Second)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second}, at)
	assert.Equal(t, epoch.Add(90*time.Second), clock.Now())
	assert.Equal(t, 3, sched.Fires())
}

func TestVirtualScheduler_OrderAcrossTasks(t *testing.T) {
	clock := NewVirtualClock(epoch)
	sched := NewVirtualScheduler(clock)

	var order []string
	sched.ScheduleAtFixedRate(20*time.Second, func() { order = append(order, "a") })
	sched.ScheduleAtFixedRate(30*time.Second, func() { order = append(order, "b") })

	sched.Advance(60 * time.Second)
	assert.Equal(t, []string{"a", "b", "a", "a", "b"}, order)
}

func TestVirtualScheduler_Cancel(t *testing.T) {
	clock := NewVirtualClock(epoch)
	sched := NewVirtualScheduler(clock)

	fired := 0
	cancel := sched.ScheduleAtFixedRate(10*time.Second, func() { fired++ })
	require.Equal(t, 1, sched.Live())

	sched.Advance(10 * time.Second)
	cancel()
	cancel()
	sched.Advance(time.Minute)

	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, sched.Live())
}

func TestVirtualScheduler_CancelFromInsideTask(t *testing.T) {
	clock := NewVirtualClock(epoch)
	sched := NewVirtualScheduler(clock)

	fired := 0
	var cancel func()
	cancel = sched.ScheduleAtFixedRate(10*time.Second, func() {
		fired++
		cancel()
	})

	sched.Advance(time.Minute)
	assert.Equal(t, 1, fired)
}

func TestVirtualScheduler_NonPositiveIntervalNeverFires(t *testing.T) {
	sched := NewVirtualScheduler(NewVirtualClock(epoch))
	fired := false
	sched.ScheduleAtFixedRate(0, func() { fired = true })
	sched.Advance(time.Hour)
	assert.False(t, fired)
	assert.Equal(t, 0, sched.Live())
}

func TestVirtualScheduler_BeforeFire(t *testing.T) {
	clock := NewVirtualClock(epoch)
	sched := NewVirtualScheduler(clock)

	var order []string
	sched.SetBeforeFire(func() { order = append(order, "before") })
	sched.ScheduleAtFixedRate(30*time.Second, func() { order = append(order, "fire") })

	sched.Advance(time.Minute)
	assert.Equal(t, []string{"before", "fire", "before", "fire"}, order)
}
