package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies core errors so callers can match on kind without
// parsing strings
type ErrorKind string

const (
	// ErrKindNotOperational means the system-level state precludes processing
	ErrKindNotOperational ErrorKind = "not_operational"
	// ErrKindScoringUnavailable means the scoring oracle could not be reached
	ErrKindScoringUnavailable ErrorKind = "scoring_unavailable"
	// ErrKindScoringTimeout means the scoring oracle exceeded its latency budget
	ErrKindScoringTimeout ErrorKind = "scoring_timeout"
	// ErrKindInvalidTransition means a state-machine contract violation
	ErrKindInvalidTransition ErrorKind = "invalid_transition"
	// ErrKindActionFailed means one response action failed during execution
	ErrKindActionFailed ErrorKind = "action_failed"
	// ErrKindCapacityExceeded means a buffer or concurrency limit was reached
	ErrKindCapacityExceeded ErrorKind = "capacity_exceeded"
	// ErrKindValidation means an input failed its invariant checks
	ErrKindValidation ErrorKind = "validation"
	// ErrKindNotFound means a referenced entity does not exist
	ErrKindNotFound ErrorKind = "not_found"
)

// Error is a structured error carrying a machine-matchable kind plus
// free-form detail
type Error struct {
	Kind   ErrorKind
	Detail string
	// State carries the system state for not_operational errors
	State SystemState
	// Action carries the failing action name for action_failed errors
	Action string
	// Err is the wrapped cause, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.State != "" {
		msg = fmt.Sprintf("%s (state: %s)", msg, e.State)
	}
	if e.Action != "" {
		msg = fmt.Sprintf("%s (action: %s)", msg, e.Action)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches against sentinel errors of the same kind
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Sentinels for errors.Is matching. Each carries only the kind; real errors
// add detail.
var (
	ErrNotOperational     = &Error{Kind: ErrKindNotOperational}
	ErrScoringUnavailable = &Error{Kind: ErrKindScoringUnavailable}
	ErrScoringTimeout     = &Error{Kind: ErrKindScoringTimeout}
	ErrInvalidTransition  = &Error{Kind: ErrKindInvalidTransition}
	ErrActionFailed       = &Error{Kind: ErrKindActionFailed}
	ErrCapacityExceeded   = &Error{Kind: ErrKindCapacityExceeded}
	ErrNotFound           = &Error{Kind: ErrKindNotFound}
)

// NotOperationalError builds a not_operational error carrying the current state
func NotOperationalError(state SystemState) *Error {
	return &Error{Kind: ErrKindNotOperational, State: state, Detail: "system is not operational"}
}

// InvalidTransitionError builds an invalid_transition error for a rejected
// plan status change
func InvalidTransitionError(from, to PlanStatus) *Error {
	return &Error{
		Kind:   ErrKindInvalidTransition,
		Detail: fmt.Sprintf("%s -> %s is not permitted", from, to),
	}
}

// ActionFailedError builds an action_failed error naming the failing action
func ActionFailedError(action string, err error) *Error {
	return &Error{Kind: ErrKindActionFailed, Action: action, Err: err}
}

// KindOf extracts the error kind, or empty string for foreign errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
