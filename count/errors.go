/*
errors.go - Error kinds for count sessions

ERROR CATEGORIES:
  1. Scope errors      - ErrEmptyScope, ErrEmptySnapshot
  2. Lifecycle errors  - ErrInvalidState, ErrSessionLocked, ErrForbidden
  3. Input errors      - ErrValidation, ErrNotFound
  4. Side-effect errors - ErrAdjustmentFailed

Every kind has a sentinel for errors.Is and a structured type carrying the
context a caller needs to build a message. Validation and state errors are
returned before anything is written.
*/
package count

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmptyScope is returned when a scope matches no snapshot position.
	ErrEmptyScope = errors.New("scope matched no stock positions")

	// ErrEmptySnapshot is returned when the snapshot has never been synced.
	ErrEmptySnapshot = errors.New("stock snapshot is empty")

	// ErrInvalidState is returned when a transition is not legal from the
	// session's current status.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionLocked is returned when counting a line of a session that
	// is no longer active.
	ErrSessionLocked = errors.New("session is locked")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a session or line does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAdjustmentFailed is returned when approval could not write its
	// stock adjustments. The session stays in review.
	ErrAdjustmentFailed = errors.New("stock adjustment failed")

	// ErrForbidden is returned when the actor's role may not perform an action.
	ErrForbidden = errors.New("forbidden")

	// ErrStatusConflict is returned by stores when a compare-and-set on the
	// session status loses. The engine turns it into an InvalidStateError.
	ErrStatusConflict = errors.New("session status changed concurrently")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EmptyScopeError covers both "snapshot empty" and "scope matched nothing".
type EmptyScopeError struct {
	Scope         Scope
	SnapshotEmpty bool
}

func (e *EmptyScopeError) Error() string {
	if e.SnapshotEmpty {
		return "stock snapshot is empty: run sync before creating a count session"
	}
	return fmt.Sprintf("no stock found for %s: widen the scope or run sync", e.Scope)
}

func (e *EmptyScopeError) Unwrap() error {
	if e.SnapshotEmpty {
		return ErrEmptySnapshot
	}
	return ErrEmptyScope
}

// InvalidStateError names the action that was refused and the status it met.
type InvalidStateError struct {
	SessionID SessionID
	Action    Action
	Status    Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s: status is %s", e.Action, e.SessionID, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// SessionLockedError is returned for line edits outside the active status.
type SessionLockedError struct {
	SessionID SessionID
	Status    Status
}

func (e *SessionLockedError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("session %s no longer accepts counts", e.SessionID)
	}
	return fmt.Sprintf("session %s is %s and no longer accepts counts", e.SessionID, e.Status)
}

func (e *SessionLockedError) Unwrap() error {
	return ErrSessionLocked
}

// ValidationError describes one malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Kind string // "session" or "line"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AdjustmentApplicationError wraps the ledger failure that aborted an approval.
type AdjustmentApplicationError struct {
	SessionID SessionID
	Cause     error
}

func (e *AdjustmentApplicationError) Error() string {
	return fmt.Sprintf("failed to apply stock adjustments for session %s: %v", e.SessionID, e.Cause)
}

// Unwrap exposes both the kind and the underlying ledger error.
func (e *AdjustmentApplicationError) Unwrap() []error {
	return []error{ErrAdjustmentFailed, e.Cause}
}

// ForbiddenError is returned when a role may not perform an action.
type ForbiddenError struct {
	Role   Role
	Action Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrSessionLocked) ||
		errors.Is(err, ErrEmptyScope) ||
		errors.Is(err, ErrEmptySnapshot) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing session or line.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
