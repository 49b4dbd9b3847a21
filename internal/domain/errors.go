package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by errors.Is for every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrCorruptState marks content-integrity failures that must not be repaired silently.
	ErrCorruptState = errors.New("corrupt state")
)

// ValidationError reports a constraint violation on a schema, attribute, choice,
// entity or value definition.
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

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CorruptStateError is returned when a stored attribute checksum no longer matches
// the checksum recomputed from its definition.
type CorruptStateError struct {
	AttributeID int64
	Stored      string
	Computed    string
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("attribute %d checksum mismatch: stored %s, computed %s", e.AttributeID, e.Stored, e.Computed)
}

func (e *CorruptStateError) Is(target error) bool {
	return target == ErrCorruptState
}
