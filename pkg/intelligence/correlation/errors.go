package correlation

import (
	"errors"
	"fmt"
)

// ErrNoNarrator is returned when enhancement is enabled without a narrator
var ErrNoNarrator = errors.New("enhancement enabled but no narrator configured")

// CorrelationError represents an error in the correlation system
type CorrelationError struct {
	Type    string
	Field   string
	Message string
	Wrapped error
}

// Error implements the error interface
func (e *CorrelationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Type, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *CorrelationError) Unwrap() error {
	return e.Wrapped
}

// IsConfigError reports whether err is a fatal configuration error
func IsConfigError(err error) bool {
	var cerr *CorrelationError
	return errors.As(err, &cerr) && cerr.Type == "InvalidConfig"
}

// ErrInvalidConfig creates an error for a configuration value that makes a run meaningless
func ErrInvalidConfig(field, reason string) error {
	return &CorrelationError{
		Type:    "InvalidConfig",
		Field:   field,
		Message: fmt.Sprintf("invalid value for '%s': %s", field, reason),
	}
}

// ErrRunAborted creates an error for a run stopped by its context
func ErrRunAborted(stage string, err error) error {
	return &CorrelationError{
		Type:    "RunAborted",
		Message: fmt.Sprintf("correlation run aborted during %s", stage),
		Wrapped: err,
	}
}

// ErrNarrativeFailed creates an error for a failed enhancement call
func ErrNarrativeFailed(correlationID string, err error) error {
	return &CorrelationError{
		Type:    "NarrativeFailed",
		Field:   correlationID,
		Message: fmt.Sprintf("narrative generation failed for %s", correlationID),
		Wrapped: err,
	}
}
