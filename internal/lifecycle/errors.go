package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the id or token resolves to no live association. Token callers
	// must not distinguish malformed, consumed and unknown tokens.
	ErrNotFound = errors.New("lifecycle: association not found")

	// ErrDuplicateName: an association with the same name (ignoring case) exists.
	ErrDuplicateName = errors.New("lifecycle: association name already registered")

	// ErrInvalidTransition: the current state does not permit the transition.
	ErrInvalidTransition = errors.New("lifecycle: transition not allowed from current state")

	// ErrConflict: the association changed between read and write.
	ErrConflict = errors.New("lifecycle: association was modified concurrently")

	// ErrTokenExpired: the password reset link is past its validity window.
	ErrTokenExpired = errors.New("lifecycle: token expired")

	// ErrPendingApproval: login attempted before the association was approved.
	ErrPendingApproval = errors.New("lifecycle: association pending approval")

	// ErrAccessDenied: login attempted for a suspended or deleted association.
	ErrAccessDenied = errors.New("lifecycle: association access denied")

	// ErrInvalidCredentials: unknown name or wrong password.
	ErrInvalidCredentials = errors.New("lifecycle: invalid credentials")
)

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InvalidTransitionError carries the state that blocked a transition.
// It matches ErrInvalidTransition with errors.Is.
type InvalidTransitionError struct {
	Transition Transition
	From       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s an association in state %q", e.Transition, e.From)
}

// Is reports target == ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
