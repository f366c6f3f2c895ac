package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a movement with the same
	// idempotency key already exists. The whole batch is rejected.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrProductNotFound is returned when a movement references a product
	// that is not in the catalog.
	ErrProductNotFound = errors.New("product not found")

	// ErrLocationNotFound is returned when a movement references a location
	// that is not in the catalog.
	ErrLocationNotFound = errors.New("location not found")

	// ErrInvalidMovement is returned for malformed movements.
	ErrInvalidMovement = errors.New("invalid movement")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidMovementError says which movement was rejected and why.
type InvalidMovementError struct {
	MovementID MovementID
	Reason     string
}

func (e *InvalidMovementError) Error() string {
	return fmt.Sprintf("invalid movement %q: %s", e.MovementID, e.Reason)
}

func (e *InvalidMovementError) Unwrap() error {
	return ErrInvalidMovement
}

// IsNotFound returns true if the error is a missing catalog reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrLocationNotFound)
}
