package engine

import (
	"context"
	"time"
)

// StartWatchdog arms the connectivity watchdog at the incident rate.
// Starting it again re-arms it, picking up a changed rate.
func (e *Engine) StartWatchdog() {
	period := e.rates().IncidentInterval()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchdogStop != nil {
		e.watchdogStop()
	}
	e.watchdogStop = e.sched.ScheduleAtFixedRate(period, func() {
		e.CheckContact(context.Background())
	})
	e.logger.Debug("watchdog armed", "period", period)
}

// StopWatchdog cancels the watchdog. A no-op when it is not running.
func (e *Engine) StopWatchdog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchdogStop != nil {
		e.watchdogStop()
		e.watchdogStop = nil
	}
}

// CheckContact runs one watchdog pass. If the device reports a network but
// the server has been silent for more than twice the incident rate, the
// online flag goes offline. Without a network it does nothing: offline is
// already implied and the flag is left alone. Reports whether the flag was
// flipped.
func (e *Engine) CheckContact(ctx context.Context) bool {
	if !e.conn.Connected() {
		return false
	}

	threshold := 2 * e.rates().IncidentInterval()
	e.mu.Lock()
	silent := e.clock.Now().Sub(e.lastContact)
	e.mu.Unlock()

	if silent <= threshold {
		return false
	}
	if !e.setOnline(ctx, false) {
		return false
	}
	e.logger.Warn("no server contact, going offline",
		"silent", silent.Round(time.Second),
		"threshold", threshold,
	)
	return true
}
