// Package queue dispatches deferred export work to an external task queue.
// The enqueuer is fire-and-forget with an acknowledgement: retries, if any,
// belong to the caller or the queue infrastructure, never to this package.
package queue

import (
	"context"
	"strings"
	"sync"
)

// Task is one unit of deferred work handed to the queue. Payload carries the
// serialized job parameters (job id plus compiled predicate); JobID travels
// separately as a message attribute so consumers can correlate without
// decoding the body.
type Task struct {
	JobID   string
	Payload []byte
}

// Validate checks the fields required for dispatch.
func (t Task) Validate() error {
	if strings.TrimSpace(t.JobID) == "" {
		return errTaskJobID
	}
	if len(t.Payload) == 0 {
		return errTaskPayload
	}
	return nil
}

// Enqueuer submits tasks for out-of-process execution. Implementations are
// at-least-once: a returned nil means the queue acknowledged the message,
// not that the work ran.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Handler processes one received task. Returning an error leaves the message
// on the queue for redelivery.
type Handler func(ctx context.Context, task Task) error

// RecordingEnqueuer is a test double that records every enqueued task.
type RecordingEnqueuer struct {
	mu    sync.Mutex
	tasks []Task

	// Err, when set, is returned by every Enqueue call.
	Err error
}

// Enqueue records the task or returns the configured error.
func (r *RecordingEnqueuer) Enqueue(_ context.Context, task Task) error {
	if r.Err != nil {
		return r.Err
	}
	if err := task.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

// Tasks returns a copy of the recorded tasks.
func (r *RecordingEnqueuer) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}
