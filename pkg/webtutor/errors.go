package webtutor

import "fmt"

// ValidationError is terminal: the request is malformed, nothing was written,
// retrying the same payload cannot succeed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Msg)
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
