package harness

import (
	"fmt"
	"strings"
)

// Trace event types.
const (
	EventFetch = "fetch"
	EventPush  = "push"
)

// TraceEvent is one request the engine sent to the scripted server.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Step     int    `json:"step"`
	Type     string `json:"type"`
	Resource string `json:"resource,omitempty"`
	Op       string `json:"op,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
	ServerID *int64 `json:"server_id,omitempty"`
}

// Label renders the event the way assertions name it:
// "fetch alerts", "push create r1", with " failed" appended on failure.
func (e TraceEvent) Label() string {
	var parts []string
	switch e.Type {
	case EventPush:
		parts = []string{EventPush, e.Op, e.Ref}
	default:
		parts = []string{e.Type, e.Resource}
	}
	if e.Failed {
		parts = append(parts, "failed")
	}
	return strings.Join(parts, " ")
}

// sortKey orders events within one step. Requests of one step run
// concurrently, so only the push-before-fetch order of a fire is kept.
func (e TraceEvent) sortKey() string {
	rank := 1
	if e.Type == EventPush {
		rank = 0
	}
	return fmt.Sprintf("%d|%s|%s|%s", rank, e.Resource, e.Op, e.Ref)
}

// RecordState is a stored record in the final state.
type RecordState struct {
	Ref      string `json:"ref,omitempty"`
	Kind     string `json:"kind"`
	ServerID *int64 `json:"server_id,omitempty"`
	Status   string `json:"status"`
}

// LayerState is a stored layer in the final state.
type LayerState struct {
	Kind     string `json:"kind"`
	Room     int64  `json:"room"`
	ID       string `json:"id"`
	Features int    `json:"features"`
	Hazards  int    `json:"hazards"`
	Active   bool   `json:"active,omitempty"`
}

// State is the store content after the last step.
type State struct {
	Online  bool          `json:"online"`
	Records []RecordState `json:"records"`
	Layers  []LayerState  `json:"layers"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every request in step order.
	Trace []TraceEvent `json:"trace"`

	// State is the final store content.
	State State `json:"state"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  State{Records: []RecordState{}, Layers: []LayerState{}},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
