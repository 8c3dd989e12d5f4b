// Package apperr defines the error taxonomy shared by the repository,
// service and handler layers. The core never logs or retries; it
// raises one of these and lets the HTTP layer decide what to do.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals that the target document does not exist. Terminal.
var ErrNotFound = errors.New("not found")

// ValidationError is malformed or incomplete input, including a request
// for an illegal status transition. It is a client logic error, never a
// race, and is raised before any store write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validation builds a ValidationError.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionDeniedError is a legal transition requested by an actor that
// is not permitted it, e.g. resubmitting when resubmission was blocked.
type PermissionDeniedError struct {
	Msg string
}

func (e *PermissionDeniedError) Error() string { return e.Msg }

// PermissionDenied builds a PermissionDeniedError.
func PermissionDenied(format string, args ...interface{}) error {
	return &PermissionDeniedError{Msg: fmt.Sprintf(format, args...)}
}

// VersionConflictError means the optimistic guard failed because another
// writer won the race. It carries the live document's lock state so the
// caller can build a field-level diff without another round trip.
type VersionConflictError struct {
	CurrentVersion       int64
	CurrentStatus        string
	CurrentChangeKey     string
	LastModifiedBy       string
	LastModifiedDateTime time.Time

	// Live is the re-read document, untyped so apperr stays free of
	// model imports. The service layer knows what it holds.
	Live interface{}
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: document is now at version %d (status %s)",
		e.CurrentVersion, e.CurrentStatus)
}

// SchedulingConflictEntry describes one active reservation occupying a
// contested room/time slot.
type SchedulingConflictEntry struct {
	ReservationID string    `json:"reservation_id"`
	EventTitle    string    `json:"event_title"`
	StartDateTime time.Time `json:"start_date_time"`
	EndDateTime   time.Time `json:"end_date_time"`
}

// SchedulingConflictError means an activation or restore would
// double-book a room. The conflict list is returned verbatim to the
// client; the core never overrides.
type SchedulingConflictError struct {
	Conflicts []SchedulingConflictEntry
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict with %d active reservation(s)", len(e.Conflicts))
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPermissionDenied reports whether err is a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var pe *PermissionDeniedError
	return errors.As(err, &pe)
}
