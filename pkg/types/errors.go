package types

import (
	"errors"
	"fmt"
)

// ErrInvalidState marks lifecycle-order violations: starting twice, stopping
// before starting, resuming a thread that never started and so on.
var ErrInvalidState = errors.New("invalid state transition")

// StateError reports a lifecycle-order violation together with the object
// that refused the transition.
type StateError struct {
	Op      string // operation that was attempted
	Subject any    // offending object, printed with %v
	Reason  string // human readable cause
}

// NewStateError builds a StateError.
func NewStateError(op string, subject any, reason string) *StateError {
	return &StateError{Op: op, Subject: subject, Reason: reason}
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s (%v)", e.Op, e.Reason, e.Subject)
}

// Unwrap lets errors.Is(err, ErrInvalidState) match.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
