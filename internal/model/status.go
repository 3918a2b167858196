package model

import (
	"errors"
	"fmt"
	"strings"
)

// SyncStatus is the send state of a user-authored record.
//
// Exactly one status is attached to every record. The in-flight states are
// transient: they are only observed while a request is outstanding, or after
// a crash, in which case RecoverInFlight maps them back to their queued
// counterparts.
//
// The zero value is not a valid status. It marks a record that has not been
// queued yet (see Queue with OpCreate).
type SyncStatus uint8

const (
	StatusSynced SyncStatus = iota + 1
	StatusSendPending
	StatusSendInFlight
	StatusUpdateQueued
	StatusUpdateInFlight
	StatusDeleteQueued
	StatusDeleteInFlight
)

// ErrUnknownStatus is returned when a persisted code or name does not map to a
// SyncStatus. Unknown values are never defaulted.
var ErrUnknownStatus = errors.New("unknown sync status")

var statusNames = map[SyncStatus]string{
	StatusSynced:         "SYNCED",
	StatusSendPending:    "SEND_PENDING",
	StatusSendInFlight:   "SEND_IN_FLIGHT",
	StatusUpdateQueued:   "UPDATE_QUEUED",
	StatusUpdateInFlight: "UPDATE_IN_FLIGHT",
	StatusDeleteQueued:   "DELETE_QUEUED",
	StatusDeleteInFlight: "DELETE_IN_FLIGHT",
}

// AllStatuses lists every valid status in code order.
func AllStatuses() []SyncStatus {
	return []SyncStatus{
		StatusSynced,
		StatusSendPending,
		StatusSendInFlight,
		StatusUpdateQueued,
		StatusUpdateInFlight,
		StatusDeleteQueued,
		StatusDeleteInFlight,
	}
}

// String returns the canonical upper-case name.
func (s SyncStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SyncStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the seven defined statuses.
func (s SyncStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Code returns the integer persisted in the store.
func (s SyncStatus) Code() int {
	return int(s)
}

// StatusFromCode maps a persisted integer back to a SyncStatus.
func StatusFromCode(code int) (SyncStatus, error) {
	if code < 0 || code > 255 {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownStatus, code)
	}
	s := SyncStatus(code)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownStatus, code)
	}
	return s, nil
}

// ParseStatus accepts the canonical name, case-insensitively.
func ParseStatus(name string) (SyncStatus, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == upper {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: code %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsInFlight reports whether a request for this record is outstanding.
func (s SyncStatus) IsInFlight() bool {
	return s == StatusSendInFlight || s == StatusUpdateInFlight || s == StatusDeleteInFlight
}

// IsQueued reports whether the record is waiting for the next push.
func (s SyncStatus) IsQueued() bool {
	return s == StatusSendPending || s == StatusUpdateQueued || s == StatusDeleteQueued
}

// Op returns the operation a queued or in-flight status carries.
// SYNCED carries no operation.
func (s SyncStatus) Op() (Op, bool) {
	switch s {
	case StatusSendPending, StatusSendInFlight:
		return OpCreate, true
	case StatusUpdateQueued, StatusUpdateInFlight:
		return OpUpdate, true
	case StatusDeleteQueued, StatusDeleteInFlight:
		return OpDelete, true
	default:
		return 0, false
	}
}

// InFlightStatuses returns the statuses RecoverInFlight rewrites.
func InFlightStatuses() []SyncStatus {
	return []SyncStatus{StatusSendInFlight, StatusUpdateInFlight, StatusDeleteInFlight}
}

// QueuedStatuses returns the statuses picked up by the push step.
func QueuedStatuses() []SyncStatus {
	return []SyncStatus{StatusSendPending, StatusUpdateQueued, StatusDeleteQueued}
}

// Op is the kind of outbound change a record carries.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// ParseOp accepts "create", "update" or "delete".
func ParseOp(name string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "create":
		return OpCreate, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown op %q", name)
	}
}

func queuedFor(op Op) SyncStatus {
	switch op {
	case OpCreate:
		return StatusSendPending
	case OpUpdate:
		return StatusUpdateQueued
	case OpDelete:
		return StatusDeleteQueued
	default:
		return 0
	}
}

func inFlightFor(op Op) SyncStatus {
	switch op {
	case OpCreate:
		return StatusSendInFlight
	case OpUpdate:
		return StatusUpdateInFlight
	case OpDelete:
		return StatusDeleteInFlight
	default:
		return 0
	}
}
