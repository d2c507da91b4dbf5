package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rowmill/rowmill/pkg/observability/logger"
	"github.com/rowmill/rowmill/pkg/queue"
)

// Mode selects how an export runs.
type Mode string

// Export mode constants
const (
	// ModeSync streams rows inline within the triggering request.
	ModeSync Mode = "sync"
	// ModeAsync defers generation to the out-of-process worker.
	ModeAsync Mode = "async"
)

// DefaultMaxSyncRows is the cardinality threshold above which an export is
// forced async when the caller did not choose a mode.
const DefaultMaxSyncRows int64 = 10000

// ErrSinkRequired is returned when a sync export is started without a sink.
var ErrSinkRequired = errors.New("sync export requires a sink")

// Request describes one export trigger.
type Request struct {
	OperationName string
	CreatedBy     string
	TenantID      string
	FileName      string
	FileType      string
	Format        string
	Mapping       string
	// ForceAsync skips the cardinality estimate and queues the export.
	ForceAsync bool
}

func (r *Request) validate() error {
	if r.OperationName == "" {
		return errors.New("operation name is required")
	}
	if r.FileName == "" {
		return errors.New("file name is required")
	}
	if r.Format == "" {
		r.Format = "csv"
	}
	return nil
}

// Result reports what the orchestrator did. Job and File ids exist in both
// modes, so the caller can poll the job resource immediately.
type Result struct {
	Mode Mode
	Job  *Job
	File *File
}

// TaskPayload is the async dispatch body: the job id plus the compiled
// source the worker must run. Carrying the compiled predicate keeps the
// worker's query identical to the one the mode decision was made against.
type TaskPayload struct {
	JobID     uuid.UUID  `json:"jobId"`
	Predicate SourceSpec `json:"predicate"`
}

// bookkeeper is the slice of Store the orchestrator needs.
type bookkeeper interface {
	CreateFileWithJob(ctx context.Context, file *File, job *Job) error
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status Status, counters *Counters) error
}

// Orchestrator decides the export mode and keeps Job/File bookkeeping
// consistent with whichever path runs.
type Orchestrator struct {
	store       bookkeeper
	enqueuer    queue.Enqueuer
	logger      logger.Logger
	metrics     *Metrics
	maxSyncRows int64
	newID       func() uuid.UUID
	tracer      trace.Tracer
}

// Config tunes the orchestrator.
type Config struct {
	// MaxSyncRows is the estimated-cardinality threshold for automatic
	// async selection. Zero means DefaultMaxSyncRows.
	MaxSyncRows int64
}

// NewOrchestrator wires an orchestrator. metrics may be nil.
func NewOrchestrator(store *Store, enqueuer queue.Enqueuer, cfg Config, log logger.Logger, metrics *Metrics) *Orchestrator {
	return newOrchestrator(store, enqueuer, cfg, log, metrics)
}

func newOrchestrator(store bookkeeper, enqueuer queue.Enqueuer, cfg Config, log logger.Logger, metrics *Metrics) *Orchestrator {
	maxRows := cfg.MaxSyncRows
	if maxRows <= 0 {
		maxRows = DefaultMaxSyncRows
	}
	return &Orchestrator{
		store:       store,
		enqueuer:    enqueuer,
		logger:      log,
		metrics:     metrics,
		maxSyncRows: maxRows,
		newID:       uuid.New,
		tracer:      otel.Tracer("rowmill/export"),
	}
}

// Run executes one export end to end. Sync mode streams CSV into sink and
// returns once the job is terminal; async mode returns right after the queue
// acknowledges the dispatch. Validation and estimation failures persist
// nothing; failures after job creation always leave the job in Failed.
func (o *Orchestrator) Run(ctx context.Context, req Request, src RowSource, sink io.Writer) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "export.run",
		trace.WithAttributes(attribute.String("export.operation", req.OperationName)))
	defer span.End()

	mode, err := o.decideMode(ctx, req, src)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("export.mode", string(mode)))

	if mode == ModeSync {
		if sink == nil {
			return nil, ErrSinkRequired
		}
		return o.runSync(ctx, req, src, sink)
	}
	return o.runAsync(ctx, req, src)
}

// decideMode honors a forced async flag, otherwise estimates cardinality
// with a capped count over the same compiled predicate the export will run.
func (o *Orchestrator) decideMode(ctx context.Context, req Request, src RowSource) (Mode, error) {
	if req.ForceAsync {
		return ModeAsync, nil
	}
	estimate, err := src.Count(ctx, o.maxSyncRows+1)
	if err != nil {
		return "", fmt.Errorf("failed to estimate export size: %w", err)
	}
	if estimate > o.maxSyncRows {
		return ModeAsync, nil
	}
	return ModeSync, nil
}

func (o *Orchestrator) runSync(ctx context.Context, req Request, src RowSource, sink io.Writer) (*Result, error) {
	start := time.Now()
	file, job := o.newPair(req, StatusProcessing)

	if err := o.store.CreateFileWithJob(ctx, file, job); err != nil {
		return nil, fmt.Errorf("failed to create export bookkeeping: %w", err)
	}
	o.metrics.jobStarted(ModeSync)
	log := o.logger.WithContext(ctx).With("job_id", job.ID, "mode", ModeSync)
	log.Info("export started", "operation", req.OperationName)

	counters := Counters{}
	enc := NewCSVEncoder(sink, src.Headers())
	streamErr := src.Stream(ctx, func(row []string) error {
		if err := enc.Write(row); err != nil {
			return err
		}
		counters.Processed++
		counters.Imported++
		return nil
	})
	if streamErr == nil {
		streamErr = enc.Flush()
	}

	if streamErr != nil {
		counters.Errored++
		// Flip the job to Failed before surfacing the error; a handled
		// failure must never leave Processing behind.
		if updErr := o.store.UpdateJobStatus(ctx, job.ID, StatusFailed, &counters); updErr != nil {
			log.Error("failed to mark job failed", "error", updErr)
		}
		o.metrics.jobFailed(ModeSync)
		log.Error("export stream failed", "rows", counters.Processed, "error", streamErr)
		job.Status = StatusFailed
		job.Counters = counters
		return &Result{Mode: ModeSync, Job: job, File: file},
			fmt.Errorf("export stream failed: %w", streamErr)
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, StatusCompleted, &counters); err != nil {
		return nil, fmt.Errorf("failed to complete export job: %w", err)
	}
	o.metrics.jobCompleted(ModeSync, start)
	o.metrics.rowsStreamed(counters.Processed)
	log.Info("export completed", "rows", counters.Processed)

	job.Status = StatusCompleted
	job.Counters = counters
	return &Result{Mode: ModeSync, Job: job, File: file}, nil
}

func (o *Orchestrator) runAsync(ctx context.Context, req Request, src RowSource) (*Result, error) {
	file, job := o.newPair(req, StatusQueued)
	file.Location = ArtifactLocation(req.FileType, job.ID, req.FileName, req.Format)

	if err := o.store.CreateFileWithJob(ctx, file, job); err != nil {
		return nil, fmt.Errorf("failed to create export bookkeeping: %w", err)
	}
	o.metrics.jobStarted(ModeAsync)
	log := o.logger.WithContext(ctx).With("job_id", job.ID, "mode", ModeAsync)

	payload, err := json.Marshal(TaskPayload{JobID: job.ID, Predicate: src.Spec()})
	if err != nil {
		o.failQueuedJob(ctx, job, log, err)
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}

	task := queue.Task{JobID: job.ID.String(), Payload: payload}
	if err := o.enqueuer.Enqueue(ctx, task); err != nil {
		// Bookkeeping stays: the Failed pair is the audit trail of the
		// attempt, distinct from validation failures that persist nothing.
		o.failQueuedJob(ctx, job, log, err)
		return nil, fmt.Errorf("failed to enqueue export job %s: %w", job.ID, err)
	}

	log.Info("export queued", "operation", req.OperationName, "location", file.Location)
	return &Result{Mode: ModeAsync, Job: job, File: file}, nil
}

func (o *Orchestrator) failQueuedJob(ctx context.Context, job *Job, log logger.Logger, cause error) {
	if err := o.store.UpdateJobStatus(ctx, job.ID, StatusFailed, nil); err != nil {
		log.Error("failed to mark job failed", "error", err, "cause", cause)
	}
	o.metrics.jobFailed(ModeAsync)
	job.Status = StatusFailed
}

// newPair mints the File and Job with ids generated before any work begins,
// so the job resource is pollable whichever mode is chosen.
func (o *Orchestrator) newPair(req Request, status Status) (*File, *Job) {
	file := &File{
		ID:      o.newID(),
		Name:    req.FileName,
		Type:    req.FileType,
		Format:  req.Format,
		Mapping: req.Mapping,
	}
	job := &Job{
		ID:            o.newID(),
		FileID:        file.ID,
		Status:        status,
		OperationName: req.OperationName,
		CreatedBy:     req.CreatedBy,
		TenantID:      req.TenantID,
	}
	return file, job
}
