package queue

import "errors"

var (
	errTaskJobID   = errors.New("task job id is required")
	errTaskPayload = errors.New("task payload is required")
)

// ErrEnqueue wraps transport failures so callers can classify them without
// depending on the backend SDK's error types.
var ErrEnqueue = errors.New("enqueue failed")
