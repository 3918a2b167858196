package engine

import (
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/outbox"
)

// CompletionType distinguishes between request kinds.
type CompletionType int

const (
	// CompletionPush is the outcome of pushing one record.
	CompletionPush CompletionType = iota + 1
	// CompletionFetch is the outcome of fetching one resource type.
	CompletionFetch
)

func (t CompletionType) String() string {
	switch t {
	case CompletionPush:
		return "push"
	case CompletionFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// Completion carries one request outcome from its goroutine to the apply
// loop. Err is nil on success.
type Completion struct {
	Seq          int64
	Type         CompletionType
	ResourceType model.ResourceType
	Scope        model.ScopeKeys
	At           time.Time

	// CompletionPush
	Attempt outbox.Attempt
	Ack     PushAck

	// CompletionFetch
	Result FetchResult

	Err error
}

// completionQueue is a thread-safe FIFO queue for completions.
//
// The queue is unbounded so request goroutines never block on a slow apply
// loop; they finish and release their hold.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type completionQueue struct {
	mu     sync.Mutex
	items  []Completion
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		items:  make([]Completion, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a completion to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *completionQueue) Enqueue(c Completion) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, c)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Completion{}, false) if the queue is empty.
func (q *completionQueue) TryDequeue() (Completion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Completion{}, false
	}

	c := q.items[0]

	// Clear the slot so the fetched layers can be collected.
	q.items[0] = Completion{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return c, true
}

// Wait returns a channel that signals when completions may be available.
func (q *completionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *completionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *completionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more completions will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *completionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
