// Package notify fans out change notifications to UI observers.
//
// Publishers (the send-status register, the reconciler and the session) call
// Publish after their store transaction commits. Subscribers receive on a
// buffered channel filtered by scope. Publish never blocks: when a
// subscriber's buffer is full the change is dropped for that subscriber and
// counted, since observers re-read the store on the next change anyway.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/fieldsync/internal/model"
)

// ChangeType distinguishes what changed.
type ChangeType int

const (
	// ChangeRecord is a send-status transition or a received record upsert.
	ChangeRecord ChangeType = iota + 1
	// ChangeLayer is a layer Inserted, Replaced, deleted or (de)activated.
	ChangeLayer
	// ChangeOnline is a flip of the session's online flag.
	ChangeOnline
)

func (t ChangeType) String() string {
	switch t {
	case ChangeRecord:
		return "record"
	case ChangeLayer:
		return "layer"
	case ChangeOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Change describes one committed change. Only the fields relevant to Type
// are set.
type Change struct {
	Type  ChangeType
	Scope model.ScopeKeys

	// ChangeRecord
	RecordKind model.RecordKind
	LocalID    string
	Status     model.SyncStatus
	Purged     bool

	// ChangeLayer
	LayerKind model.LayerKind
	LayerID   string
	Result    string

	// ChangeOnline
	Online bool
}

// DefaultBuffer is the channel capacity used when Subscribe is given zero.
const DefaultBuffer = 64

// Subscription receives changes matching its scope on C.
type Subscription struct {
	C <-chan Change

	ch      chan Change
	scope   model.ScopeKeys
	dropped atomic.Int64
}

// Dropped returns how many changes were discarded because C was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// matches reports whether c falls within the subscription scope. A zero key
// in the subscription matches any value. Online changes are global.
func (s *Subscription) matches(c Change) bool {
	if c.Type == ChangeOnline {
		return true
	}
	if s.scope.IncidentID != 0 && c.Scope.IncidentID != 0 && s.scope.IncidentID != c.Scope.IncidentID {
		return false
	}
	if s.scope.CollabroomID != 0 && c.Scope.CollabroomID != 0 && s.scope.CollabroomID != c.Scope.CollabroomID {
		return false
	}
	return true
}

// Bus is a scope-filtered fan-out of changes.
//
// Thread-safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers an observer for scope. A zero ScopeKeys observes
// everything. buffer <= 0 uses DefaultBuffer.
//
// Subscribing to a closed bus returns a subscription whose channel is
// already closed.
func (b *Bus) Subscribe(scope model.ScopeKeys, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Change, buffer)
	sub := &Subscription{C: ch, ch: ch, scope: scope}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Unsubscribing twice is a
// no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers c to every matching subscriber without blocking.
func (b *Bus) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.matches(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			sub.dropped.Add(1)
			b.logger.Debug("notification dropped", "type", c.Type, "scope", c.Scope)
		}
	}
}

// Close closes every subscription channel. Later Publish calls are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
