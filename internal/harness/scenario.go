package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
)

// Scenario defines a sync scenario: a server script, a sequence of user
// and environment steps, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides fieldsync.yaml settings (rates, low_data_mode, ...).
	Config yaml.Node `yaml:"config,omitempty"`

	// Scope is the selected incident and room.
	Scope model.ScopeKeys `yaml:"scope"`

	// Served is what the server returns per resource type before any step
	// changes it.
	Served map[string]Served `yaml:"served,omitempty"`

	// Steps run in order. Each step sets exactly one action.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Served is the fetch response of one resource type.
type Served struct {
	Layers  []model.LayeredResource `yaml:"layers,omitempty"`
	Records []ServedRecord          `yaml:"records,omitempty"`
}

// ServedRecord is a server-side record. A zero scope takes the fetch scope.
type ServedRecord struct {
	ServerID int64           `yaml:"server_id"`
	Kind     string          `yaml:"kind,omitempty"`
	Scope    model.ScopeKeys `yaml:"scope,omitempty"`
	Payload  map[string]any  `yaml:"payload"`
}

// Step is one scenario action.
type Step struct {
	// Submit queues a new record under a scenario-local ref.
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Edit replaces the payload of a submitted record.
	Edit *EditStep `yaml:"edit,omitempty"`

	// Delete deletes the record with this ref.
	Delete string `yaml:"delete,omitempty"`

	// Serve replaces the server response of the named resource types.
	Serve map[string]Served `yaml:"serve,omitempty"`

	// Fire runs one poll of a resource type.
	Fire string `yaml:"fire,omitempty"`

	// Start and Stop arm and disarm a polling group.
	Start string `yaml:"start,omitempty"`
	Stop  string `yaml:"stop,omitempty"`

	// Advance moves the virtual clock, firing due timers (e.g. "30s").
	Advance string `yaml:"advance,omitempty"`

	// Network is "up" or "down": whether the device reports connectivity.
	Network string `yaml:"network,omitempty"`

	// Server is "up" or "down": whether requests that are sent succeed.
	Server string `yaml:"server,omitempty"`

	// Watchdog starts the connectivity watchdog.
	Watchdog bool `yaml:"watchdog,omitempty"`
}

// SubmitStep queues a draft.
type SubmitStep struct {
	Ref     string         `yaml:"ref"`
	Kind    string         `yaml:"kind"`
	Payload map[string]any `yaml:"payload"`
}

// EditStep edits a submitted record.
type EditStep struct {
	Ref     string         `yaml:"ref"`
	Payload map[string]any `yaml:"payload"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Ref names a submitted record (record_status, record_absent).
	Ref string `yaml:"ref,omitempty"`

	// Status is the expected send status name (record_status).
	Status string `yaml:"status,omitempty"`

	// ServerID is the expected server id (record_status, received_record).
	ServerID *int64 `yaml:"server_id,omitempty"`

	// Kind is a record kind (received_record) or layer kind (layer_ids).
	Kind string `yaml:"kind,omitempty"`

	// Room and IDs describe the expected layers of a room (layer_ids).
	Room int64    `yaml:"room,omitempty"`
	IDs  []string `yaml:"ids,omitempty"`

	// Online is the expected online flag (online).
	Online *bool `yaml:"online,omitempty"`

	// Event is a trace label (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Events are trace labels expected in order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordStatus   = "record_status"
	AssertRecordAbsent   = "record_absent"
	AssertReceivedRecord = "received_record"
	AssertLayerIDs       = "layer_ids"
	AssertOnline         = "online"
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for name := range s.Served {
		if _, err := model.ParseResourceType(name); err != nil {
			return fmt.Errorf("served: %w", err)
		}
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, refs); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], refs); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks one step. refs collects the refs submitted so far.
func validateStep(i int, step Step, refs map[string]bool) error {
	set := 0
	count := func(ok bool) {
		if ok {
			set++
		}
	}
	count(step.Submit != nil)
	count(step.Edit != nil)
	count(step.Delete != "")
	count(step.Serve != nil)
	count(step.Fire != "")
	count(step.Start != "")
	count(step.Stop != "")
	count(step.Advance != "")
	count(step.Network != "")
	count(step.Server != "")
	count(step.Watchdog)
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}

	switch {
	case step.Submit != nil:
		if step.Submit.Ref == "" {
			return fmt.Errorf("steps[%d].submit: ref is required", i)
		}
		if refs[step.Submit.Ref] {
			return fmt.Errorf("steps[%d].submit: duplicate ref %q", i, step.Submit.Ref)
		}
		if _, err := model.ParseRecordKind(step.Submit.Kind); err != nil {
			return fmt.Errorf("steps[%d].submit: %w", i, err)
		}
		refs[step.Submit.Ref] = true
	case step.Edit != nil:
		if !refs[step.Edit.Ref] {
			return fmt.Errorf("steps[%d].edit: unknown ref %q", i, step.Edit.Ref)
		}
	case step.Delete != "":
		if !refs[step.Delete] {
			return fmt.Errorf("steps[%d].delete: unknown ref %q", i, step.Delete)
		}
	case step.Serve != nil:
		for name := range step.Serve {
			if _, err := model.ParseResourceType(name); err != nil {
				return fmt.Errorf("steps[%d].serve: %w", i, err)
			}
		}
	case step.Fire != "":
		if _, err := model.ParseResourceType(step.Fire); err != nil {
			return fmt.Errorf("steps[%d].fire: %w", i, err)
		}
	case step.Start != "":
		if _, err := engine.ParseGroup(step.Start); err != nil {
			return fmt.Errorf("steps[%d].start: %w", i, err)
		}
	case step.Stop != "":
		if _, err := engine.ParseGroup(step.Stop); err != nil {
			return fmt.Errorf("steps[%d].stop: %w", i, err)
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil || d <= 0 {
			return fmt.Errorf("steps[%d].advance: invalid duration %q", i, step.Advance)
		}
	case step.Network != "":
		if step.Network != "up" && step.Network != "down" {
			return fmt.Errorf("steps[%d].network: must be up or down", i)
		}
	case step.Server != "":
		if step.Server != "up" && step.Server != "down" {
			return fmt.Errorf("steps[%d].server: must be up or down", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, refs map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecordStatus:
		if !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
		}
		if _, err := model.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertRecordAbsent:
		if !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
		}
	case AssertReceivedRecord:
		if a.ServerID == nil {
			return fmt.Errorf("assertions[%d]: server_id is required for received_record", index)
		}
		if _, err := model.ParseRecordKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertLayerIDs:
		if _, err := model.ParseLayerKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertOnline:
		if a.Online == nil {
			return fmt.Errorf("assertions[%d]: online is required", index)
		}
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
