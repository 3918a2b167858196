package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the record's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Transition is the outcome of applying one send-status rule.
//
// Purge means the record must be physically removed instead of rewritten.
// Superseded means the outcome belonged to an older attempt: the record was
// edited or deleted while the request was outstanding, so its status is left
// as is.
type Transition struct {
	From       SyncStatus
	Next       SyncStatus
	Purge      bool
	Superseded bool
}

// Changed reports whether applying t writes anything.
func (t Transition) Changed() bool {
	return t.Purge || t.Next != t.From
}

func invalid(from SyncStatus, action string) error {
	if from == 0 {
		return fmt.Errorf("%w: %s on unqueued record", ErrInvalidTransition, action)
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
}

// Queue records a user change. cur is zero for a record that has never been
// queued.
func Queue(cur SyncStatus, op Op) (Transition, error) {
	t := Transition{From: cur}
	switch op {
	case OpCreate:
		if cur != 0 && cur != StatusSendPending {
			return t, invalid(cur, "queue create")
		}
		t.Next = StatusSendPending
		return t, nil

	case OpUpdate:
		switch cur {
		case StatusSendPending:
			// The create has not left the device; it will carry the edit.
			t.Next = StatusSendPending
		case StatusSynced, StatusUpdateQueued, StatusUpdateInFlight, StatusSendInFlight:
			t.Next = StatusUpdateQueued
		default:
			return t, invalid(cur, "queue update")
		}
		return t, nil

	case OpDelete:
		switch {
		case cur == StatusSendPending:
			t.Purge = true
		case cur.Valid():
			t.Next = StatusDeleteQueued
		default:
			return t, invalid(cur, "queue delete")
		}
		return t, nil

	default:
		return t, fmt.Errorf("%w: unknown op %d", ErrInvalidTransition, op)
	}
}

// MarkInFlight moves a queued record to its in-flight state just before the
// request is issued.
func MarkInFlight(cur SyncStatus) (Transition, error) {
	op, ok := cur.Op()
	if !ok || !cur.IsQueued() {
		return Transition{From: cur}, invalid(cur, "mark in flight")
	}
	return Transition{From: cur, Next: inFlightFor(op)}, nil
}

// Ack applies a successful server response for an attempt of op.
func Ack(cur SyncStatus, op Op) (Transition, error) {
	t := Transition{From: cur, Next: cur}
	if !cur.Valid() {
		return t, invalid(cur, "ack")
	}
	if op == OpDelete {
		t.Purge = true
		return t, nil
	}
	if cur == inFlightFor(op) {
		t.Next = StatusSynced
		return t, nil
	}
	t.Superseded = true
	return t, nil
}

// Fail applies a failed attempt of op. The record is retried on the next poll.
func Fail(cur SyncStatus, op Op) (Transition, error) {
	t := Transition{From: cur, Next: cur}
	if !cur.Valid() {
		return t, invalid(cur, "fail")
	}
	if cur == inFlightFor(op) {
		t.Next = queuedFor(op)
		return t, nil
	}
	if op == OpCreate {
		switch cur {
		case StatusUpdateQueued:
			// Edited mid-flight, but the server never stored the record.
			t.Next = StatusSendPending
			return t, nil
		case StatusDeleteQueued:
			// Deleted mid-flight and never created: nothing to delete remotely.
			t.Purge = true
			return t, nil
		}
	}
	t.Superseded = true
	return t, nil
}

// RecoverInFlight maps an in-flight status to its queued counterpart and
// leaves every other status untouched. Applying it twice is the same as
// applying it once.
func RecoverInFlight(cur SyncStatus) SyncStatus {
	if !cur.IsInFlight() {
		return cur
	}
	op, _ := cur.Op()
	return queuedFor(op)
}
