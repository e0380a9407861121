// Package validation provides the input-boundary checks the Pipeline
// Orchestrator runs before a request enters the evaluation layers: tool-name
// shape validation and argument-tree sanitization. A failure here is the
// only source of the `invalid_input` error kind (spec §7) — every later
// layer degrades gracefully instead of returning an error.
package validation

import "fmt"

// ValidationError represents an invalid_input failure. Message is safe to
// surface to a caller: it never contains internal details like file paths.
type ValidationError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// NewValidationError creates a new ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}
