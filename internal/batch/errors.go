package batch

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input to create/start/cancel. The batch is
// unaffected and the error is returned synchronously to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an operation attempted on a batch in the wrong
// lifecycle state.
type InvalidStateError struct {
	BatchID   string
	Status    string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s batch %s in status %q", e.Operation, e.BatchID, e.Status)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidStateError reports whether err is an InvalidStateError.
func IsInvalidStateError(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}
