package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a watcher or strategy is absent
	ErrNotFound = errors.New("not found")

	// ErrRuleProvisioning is returned when the external rule cannot be created or deleted
	ErrRuleProvisioning = errors.New("rule provisioning failed")

	// ErrUpstreamUnavailable marks a metadata, price or signer source that could not answer
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUnknownStrategy is returned for a strategy type outside the closed enum
	ErrUnknownStrategy = errors.New("unknown strategy type")

	// ErrExecution wraps a failed swap dispatch
	ErrExecution = errors.New("swap execution failed")
)

// ValidationError reports missing or malformed input. No side effects are
// attempted once it is returned.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
