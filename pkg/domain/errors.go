package domain

import "fmt"

// ValidationError reports a single record that violates a data-model invariant
type ValidationError struct {
	Kind    string // "event", "item", "investigation"
	ID      string
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %s: %s %s", e.Kind, e.ID, e.Field, e.Message)
}

// ErrInvalidRecord creates a validation error for one record field
func ErrInvalidRecord(kind, id, field, message string) error {
	return &ValidationError{
		Kind:    kind,
		ID:      id,
		Field:   field,
		Message: message,
	}
}
