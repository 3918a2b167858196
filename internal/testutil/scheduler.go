package testutil

import (
	"sort"
	"sync"
	"time"
)

type virtualTask struct {
	id        int
	interval  time.Duration
	next      time.Time
	fn        func()
	cancelled bool
	fires     int
}

// VirtualScheduler runs fixed-rate tasks against a VirtualClock.
//
// Tasks only fire inside Advance, synchronously on the caller's goroutine,
// in due-time order (ties broken by scheduling order). A task scheduled at
// interval d first fires at now+d.
type VirtualScheduler struct {
	clock *VirtualClock

	mu         sync.Mutex
	tasks      []*virtualTask
	nextID     int
	beforeFire func()
}

// NewVirtualScheduler creates a scheduler driven by clock.
func NewVirtualScheduler(clock *VirtualClock) *VirtualScheduler {
	return &VirtualScheduler{clock: clock}
}

// SetBeforeFire installs fn to run before every task fires. Engine tests
// pass the engine's Wait so each tick sees the previous worker finished.
func (s *VirtualScheduler) SetBeforeFire(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeFire = fn
}

// ScheduleAtFixedRate registers fn to run every interval. The returned
// function cancels the task; calling it more than once is a no-op.
// A non-positive interval never fires.
func (s *VirtualScheduler) ScheduleAtFixedRate(interval time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	task := &virtualTask{
		id:       s.nextID,
		interval: interval,
		next:     s.clock.Now().Add(interval),
		fn:       fn,
	}
	if interval <= 0 {
		task.cancelled = true
	}
	s.tasks = append(s.tasks, task)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	}
}

// Advance moves the clock forward by d, firing every task that falls due on
// the way. The clock reads each task's due time while it runs.
func (s *VirtualScheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		task := s.nextDue(target)
		if task == nil {
			break
		}
		s.clock.Set(task.next)
		s.mu.Lock()
		task.next = task.next.Add(task.interval)
		task.fires++
		before := s.beforeFire
		s.mu.Unlock()
		if before != nil {
			before()
		}
		task.fn()
	}
	s.clock.Set(target)
}

func (s *VirtualScheduler) nextDue(target time.Time) *virtualTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*virtualTask
	for _, t := range s.tasks {
		if !t.cancelled && !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].next.Equal(due[j].next) {
			return due[i].next.Before(due[j].next)
		}
		return due[i].id < due[j].id
	})
	return due[0]
}

// Live returns the number of tasks that have not been cancelled.
func (s *VirtualScheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Fires returns how many times tasks have fired in total, cancelled ones
// included.
func (s *VirtualScheduler) Fires() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		n += t.fires
	}
	return n
}
