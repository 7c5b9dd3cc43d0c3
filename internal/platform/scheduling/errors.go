package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTimeConflict        = errors.New("time conflict")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConcurrencyConflict = errors.New("concurrent modification, retry")
	ErrNotFound            = errors.New("not found")
	ErrExtensionPending    = errors.New("an extension request is already pending")
)

// TimeConflictError carries the first existing booking that collides with a
// requested window.
type TimeConflictError struct {
	BookingID string    `json:"booking_id"`
	Date      Date      `json:"date"`
	Start     TimeOfDay `json:"start_time"`
	End       TimeOfDay `json:"end_time"`
}

func (e *TimeConflictError) Error() string {
	return fmt.Sprintf("time conflict with booking %s on %s %s-%s", e.BookingID, e.Date, e.Start, e.End)
}

func (e *TimeConflictError) Unwrap() error { return ErrTimeConflict }

// TransitionError reports a lifecycle event that is not legal from the
// booking's current status.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an assignment that is %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Outcome classifies err into a short label for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeConflict):
		return "conflict"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExtensionPending):
		return "pending"
	default:
		return "error"
	}
}
