package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSlotNotProposed     = errors.New("chosen time was never proposed")
	ErrProvisioningFailed  = errors.New("meeting provisioning failed")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrVersionConflict     = errors.New("reservation was modified concurrently")
	ErrReservationBusy     = errors.New("reservation is being modified, please retry")

	// ErrInvariantViolation means stored state is corrupt. It is never
	// repaired in place.
	ErrInvariantViolation = errors.New("reservation invariant violated")
)

// ValidationError is returned for input the caller can fix and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransitionError carries the current status so callers can resync.
type TransitionError struct {
	Action  Action
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a reservation in status %q", e.Action, e.Current)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
