package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// PollTask is one armed resource type.
type PollTask struct {
	ResourceType    model.ResourceType
	Interval        time.Duration
	FireImmediately bool

	cancel func()
}

// Poller keeps at most one live timer per resource type.
//
// Scheduling a type again cancels its previous timer first. Cancelling a
// type that is not armed is a no-op. Cancelling does not touch requests a
// previous fire already started.
type Poller struct {
	sched  Scheduler
	fire   func(model.ResourceType)
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[model.ResourceType]*PollTask
}

// NewPoller creates a poller that calls fire on every tick.
// fire must not call back into the poller.
func NewPoller(sched Scheduler, fire func(model.ResourceType), logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		sched:  sched,
		fire:   fire,
		logger: logger,
		tasks:  make(map[model.ResourceType]*PollTask),
	}
}

// Schedule arms rt at interval, replacing any previous timer.
// With fireImmediately, rt fires once synchronously before the timer is
// armed.
func (p *Poller) Schedule(rt model.ResourceType, interval time.Duration, fireImmediately bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduleLocked(rt, interval, fireImmediately)
}

func (p *Poller) scheduleLocked(rt model.ResourceType, interval time.Duration, fireImmediately bool) {
	if prev, ok := p.tasks[rt]; ok {
		prev.cancel()
		delete(p.tasks, rt)
	}

	if fireImmediately {
		p.fire(rt)
	}

	task := &PollTask{ResourceType: rt, Interval: interval, FireImmediately: fireImmediately}
	task.cancel = p.sched.ScheduleAtFixedRate(interval, func() {
		// A tick racing Cancel or a reschedule belongs to a dead task.
		p.mu.Lock()
		live := p.tasks[rt] == task
		p.mu.Unlock()
		if live {
			p.fire(rt)
		}
	})
	p.tasks[rt] = task

	p.logger.Debug("poll task armed", "resource", rt, "interval", interval, "fire_immediately", fireImmediately)
}

// Cancel stops rt's timer. Reports whether a timer was live.
func (p *Poller) Cancel(rt model.ResourceType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, ok := p.tasks[rt]
	if !ok {
		return false
	}
	task.cancel()
	delete(p.tasks, rt)
	p.logger.Debug("poll task cancelled", "resource", rt)
	return true
}

// Reschedule re-arms a live rt at a new interval without an immediate
// fire. Does nothing if rt is not armed or the interval is unchanged.
func (p *Poller) Reschedule(rt model.ResourceType, interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, ok := p.tasks[rt]
	if !ok || task.Interval == interval {
		return false
	}
	p.scheduleLocked(rt, interval, false)
	return true
}

// FireOnce fires rt now without arming a timer.
func (p *Poller) FireOnce(rt model.ResourceType) {
	p.fire(rt)
}

// CancelAll stops every timer.
func (p *Poller) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for rt, task := range p.tasks {
		task.cancel()
		delete(p.tasks, rt)
	}
}

// Interval returns rt's armed interval.
func (p *Poller) Interval(rt model.ResourceType) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[rt]
	if !ok {
		return 0, false
	}
	return task.Interval, true
}

// Armed lists the armed resource types, sorted by name.
func (p *Poller) Armed() []model.ResourceType {
	p.mu.Lock()
	defer p.mu.Unlock()
	armed := make([]model.ResourceType, 0, len(p.tasks))
	for rt := range p.tasks {
		armed = append(armed, rt)
	}
	sort.Slice(armed, func(i, j int) bool { return armed[i] < armed[j] })
	return armed
}
