package query

import "fmt"

// ValidationError reports a filter or sort document that does not conform to
// its endpoint spec. It is always produced before any persistence happens and
// is never worth retrying.
type ValidationError struct {
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for column %q: %s", e.Column, e.Reason)
}

func validationError(column, format string, args ...any) *ValidationError {
	return &ValidationError{Column: column, Reason: fmt.Sprintf(format, args...)}
}
