package bill

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id does not match any stored bill
	ErrNotFound = errors.New("bill not found")

	// ErrValidationFailed matches every *ValidationError
	ErrValidationFailed = errors.New("validation failed")

	// ErrInvalidTransition is returned when a workflow operation is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrCaptureClosed is returned by an ImageSource that was closed without producing an image
	ErrCaptureClosed = errors.New("capture closed without image")
)

// ValidationError reports a draft field that blocks a commit
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidationFailed) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
