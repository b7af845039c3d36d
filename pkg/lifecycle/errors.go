package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrMissingEventID        = errors.New("event id is required")
	ErrNoActiveSubscription  = errors.New("no active subscription")
	ErrSubscriptionPaused    = errors.New("subscription is paused")
	ErrSubscriptionNotPaused = errors.New("subscription is not paused")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidInput          = errors.New("invalid operation input")
	ErrTooManyConflicts      = errors.New("too many concurrent modifications")
)

// OperationError is the structured failure of an administrative operation.
// Reason is safe to show to the operator. Nothing is persisted when an
// operation fails.
type OperationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return e.Op + ": " + e.Reason
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(op, reason string, err error) *OperationError {
	return &OperationError{Op: op, Reason: reason, Err: err}
}
