package engine

import (
	"sync"
	"time"
)

// Scheduler arms fixed-rate timers. Fires happen every interval regardless
// of how long the previous fire took.
//
// ScheduleAtFixedRate returns a cancel function. Cancel must be idempotent
// and must not wait for a running fn.
type Scheduler interface {
	ScheduleAtFixedRate(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler is the production Scheduler backed by time.Ticker.
// Each task runs on its own goroutine; the first fire is one interval after
// scheduling.
type TickerScheduler struct{}

// ScheduleAtFixedRate implements Scheduler.
func (TickerScheduler) ScheduleAtFixedRate(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}
