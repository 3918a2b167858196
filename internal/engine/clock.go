package engine

import (
	"sync/atomic"
	"time"
)

// Clock is the engine's wall clock. Injected so the watchdog and
// last-contact bookkeeping run against virtual time in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Sequence is a monotonic counter stamping completions in enqueue order.
//
// Completions from different requests race onto the queue; the stamp makes
// the order the apply loop saw them in visible in logs.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// Next returns the next sequence number and increments the counter.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
