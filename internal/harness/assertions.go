package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d: %s\n", event.Seq, event.Step, event.Label())
		}
	}
	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertRecordStatus:
		return assertRecordStatus(result.State, a)
	case AssertRecordAbsent:
		return assertRecordAbsent(result.State, a)
	case AssertReceivedRecord:
		return assertReceivedRecord(result.State, a)
	case AssertLayerIDs:
		return assertLayerIDs(result.State, a)
	case AssertOnline:
		if result.State.Online != *a.Online {
			return &AssertionError{
				Type:     AssertOnline,
				Expected: fmt.Sprintf("online=%t", *a.Online),
				Actual:   fmt.Sprintf("online=%t", result.State.Online),
				Trace:    result.Trace,
			}
		}
		return nil
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func findRef(state State, ref string) (RecordState, bool) {
	for _, r := range state.Records {
		if r.Ref == ref {
			return r, true
		}
	}
	return RecordState{}, false
}

// assertRecordStatus checks the status, and the server id when given, of a
// submitted record.
func assertRecordStatus(state State, a Assertion) error {
	r, ok := findRef(state, a.Ref)
	if !ok {
		return &AssertionError{
			Type:     AssertRecordStatus,
			Expected: fmt.Sprintf("record %s in status %s", a.Ref, a.Status),
			Actual:   "record not stored",
		}
	}
	if !strings.EqualFold(r.Status, a.Status) {
		return &AssertionError{
			Type:     AssertRecordStatus,
			Expected: fmt.Sprintf("record %s in status %s", a.Ref, a.Status),
			Actual:   fmt.Sprintf("status %s", r.Status),
		}
	}
	if a.ServerID != nil && serverID(r.ServerID) != *a.ServerID {
		return &AssertionError{
			Type:     AssertRecordStatus,
			Expected: fmt.Sprintf("record %s with server id %d", a.Ref, *a.ServerID),
			Actual:   formatServerID(r.ServerID),
		}
	}
	return nil
}

func assertRecordAbsent(state State, a Assertion) error {
	if r, ok := findRef(state, a.Ref); ok {
		return &AssertionError{
			Type:     AssertRecordAbsent,
			Expected: fmt.Sprintf("record %s purged", a.Ref),
			Actual:   fmt.Sprintf("stored in status %s", r.Status),
		}
	}
	return nil
}

// assertReceivedRecord checks a record that arrived from the server,
// identified by kind and server id.
func assertReceivedRecord(state State, a Assertion) error {
	for _, r := range state.Records {
		if r.Kind != a.Kind || serverID(r.ServerID) != *a.ServerID {
			continue
		}
		if a.Status != "" && !strings.EqualFold(r.Status, a.Status) {
			return &AssertionError{
				Type:     AssertReceivedRecord,
				Expected: fmt.Sprintf("%s/%d in status %s", a.Kind, *a.ServerID, a.Status),
				Actual:   fmt.Sprintf("status %s", r.Status),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertReceivedRecord,
		Expected: fmt.Sprintf("%s/%d stored", a.Kind, *a.ServerID),
		Actual:   "not found",
	}
}

// assertLayerIDs checks the set of layer ids stored for a room.
func assertLayerIDs(state State, a Assertion) error {
	actual := []string{}
	for _, l := range state.Layers {
		if l.Kind == a.Kind && l.Room == a.Room {
			actual = append(actual, l.ID)
		}
	}
	expected := append([]string{}, a.IDs...)
	sort.Strings(actual)
	sort.Strings(expected)

	if strings.Join(actual, ",") != strings.Join(expected, ",") {
		return &AssertionError{
			Type:     AssertLayerIDs,
			Expected: fmt.Sprintf("%s layers of room %d: %v", a.Kind, a.Room, expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// assertTraceContains checks that an event with the label was recorded.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Label() == a.Event {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Event,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events appear in the specified order.
// Events don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Events) && event.Label() == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("events in order: %v", a.Events),
			Actual:   fmt.Sprintf("no %q after %v", a.Events[next], a.Events[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks that the label appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Label() == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s occurs %d times", a.Event, a.Count),
			Actual:   fmt.Sprintf("occurs %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

func formatServerID(id *int64) string {
	if id == nil {
		return "no server id"
	}
	return fmt.Sprintf("server id %d", *id)
}
