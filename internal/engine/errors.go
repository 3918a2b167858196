package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// ErrUnknownGroup is returned for a polling group name that is not defined.
var ErrUnknownGroup = errors.New("unknown polling group")

// RequestError represents a failed transport call.
//
// Request errors are never fatal: a failed push returns its record to the
// queue and a failed fetch is retried on the next fire. RequestError keeps
// the structured fields the apply loop logs.
type RequestError struct {
	// Code identifies the request kind.
	Code RequestErrorCode

	// ResourceType is the polled resource the request belonged to.
	ResourceType model.ResourceType

	// LocalID identifies the pushed record (push errors only).
	LocalID string

	// Err is the transport's error.
	Err error
}

// RequestErrorCode categorizes request errors.
type RequestErrorCode string

const (
	// ErrCodePushFailed indicates the server did not accept a push.
	ErrCodePushFailed RequestErrorCode = "PUSH_FAILED"

	// ErrCodeFetchFailed indicates a fetch returned no usable result.
	ErrCodeFetchFailed RequestErrorCode = "FETCH_FAILED"
)

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.LocalID != "" {
		return fmt.Sprintf("%s: %s (record=%s): %v", e.Code, e.ResourceType, e.LocalID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.ResourceType, e.Err)
}

// Unwrap returns the transport's error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsPushError returns true if err is a failed push.
// Uses errors.As to handle wrapped errors.
func IsPushError(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code == ErrCodePushFailed
	}
	return false
}

// IsFetchError returns true if err is a failed fetch.
func IsFetchError(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code == ErrCodeFetchFailed
	}
	return false
}
