// Package apierrors defines the error taxonomy from spec.md §7, grounded on
// the teacher's errors package (APIError + UnretriableError wrapper
// detectable via errors.As).
package apierrors

import (
	"errors"
	"fmt"
)

// APIError is the shape returned at the control-plane boundary.
type APIError struct {
	Msg    string
	Status int
	Err    error
}

func (e APIError) Error() string { return e.Msg }
func (e APIError) Unwrap() error { return e.Err }

func NewBadRequest(msg string, err error) APIError    { return APIError{msg, 400, err} }
func NewUnauthorized(msg string, err error) APIError  { return APIError{msg, 401, err} }
func NewNotFound(msg string, err error) APIError      { return APIError{msg, 404, err} }
func NewConflict(msg string, err error) APIError      { return APIError{msg, 409, err} }
func NewTooManyRequests(msg string, err error) APIError {
	return APIError{msg, 429, err}
}
func NewInternal(msg string, err error) APIError { return APIError{msg, 500, err} }

// UnretriableError wraps an error that the dispatcher must never retry
// (spec.md §4.6, §7 "Terminal-step" / "AuthExpired" rows).
type UnretriableError struct{ error }

func Unretriable(err error) error {
	if err == nil {
		return nil
	}
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error { return e.error }

// IsUnretriable reports whether err (or anything it wraps) was marked
// unretriable.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// NotFoundError is returned by repository lookups. It never distinguishes
// "wrong tenant" from "doesn't exist" (Invariant 1/3).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func NewNotFoundError(kind, id string) error {
	return Unretriable(NotFoundError{Kind: kind, ID: id})
}

func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// QuotaExceededError is returned by admission checks (spec.md §4.14); it
// maps to HTTP 429 at the control plane and must never be enqueued.
type QuotaExceededError struct {
	Quota string
	Limit int64
	Used  int64
}

func (e QuotaExceededError) Error() string {
	return fmt.Sprintf("quota %q exceeded: %d/%d", e.Quota, e.Used, e.Limit)
}

func IsQuotaExceeded(err error) bool {
	var qe QuotaExceededError
	return errors.As(err, &qe)
}

// AdmissionError is returned when a state-machine precondition is violated
// (spec.md §4.5 admission helpers); reject synchronously, never enqueue.
type AdmissionError struct {
	Action string
	Reason string
}

func (e AdmissionError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Action, e.Reason)
}

func NewAdmissionError(action, reason string) error {
	return Unretriable(AdmissionError{Action: action, Reason: reason})
}

// RaceError signals a guarded mutation observed state diverge from what it
// expected (spec.md §7 "Race" row) -- abort silently and log; the original
// request wins.
type RaceError struct {
	Op string
}

func (e RaceError) Error() string { return "race detected during " + e.Op }

func IsRace(err error) bool {
	var re RaceError
	return errors.As(err, &re)
}

// Truncate enforces the 1000-char cap on persisted failure reasons
// (spec.md §4.6).
func Truncate(reason string, limit int) string {
	if len(reason) <= limit {
		return reason
	}
	return reason[:limit]
}
