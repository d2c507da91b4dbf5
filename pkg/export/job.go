// Package export implements the two-mode export lifecycle: a synchronous
// path that streams rows straight to the caller, and an asynchronous path
// that queues generation to an out-of-process worker. Both paths share the
// same Job/File bookkeeping so callers poll one resource regardless of mode.
package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an export job.
type Status string

// Job status constants
const (
	// StatusQueued means the job waits for the async worker.
	StatusQueued Status = "Queued"
	// StatusProcessing means rows are being produced right now.
	StatusProcessing Status = "Processing"
	// StatusCompleted is terminal: the artifact is fully written.
	StatusCompleted Status = "Completed"
	// StatusFailed is terminal: the attempt is kept as history, re-running
	// an export always creates a new Job/File pair.
	StatusFailed Status = "Failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may advance to next. Transitions only move
// forward: Queued to Processing or Failed, Processing to Completed or Failed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Counters tracks row accounting for one export attempt.
type Counters struct {
	Processed int64
	Imported  int64
	Errored   int64
}

// Job is one persisted export attempt. It is created in the same transaction
// as its owning File and mutated only through the Store.
type Job struct {
	ID            uuid.UUID
	FileID        uuid.UUID
	Status        Status
	OperationName string
	CreatedBy     string
	TenantID      string
	Counters      Counters
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks the fields required before persistence.
func (j *Job) Validate() error {
	if j == nil {
		return errors.New("job is nil")
	}
	if j.ID == uuid.Nil {
		return errors.New("job id is required")
	}
	if j.FileID == uuid.Nil {
		return errors.New("job file id is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	if j.OperationName == "" {
		return errors.New("job operation name is required")
	}
	return nil
}

// Store error values
var (
	// ErrJobNotFound is returned when the job id is unknown.
	ErrJobNotFound = errors.New("export job not found")
	// ErrInvalidTransition is returned when a status update would move a
	// job backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
