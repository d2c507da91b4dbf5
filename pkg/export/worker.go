package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rowmill/rowmill/pkg/observability/logger"
	"github.com/rowmill/rowmill/pkg/queue"
	"github.com/rowmill/rowmill/pkg/store/postgres"
)

// ArtifactStore persists generated export files. Satisfied by the S3 adapter.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) (string, error)
}

// SourceFactory turns the dispatched source spec back into a row source.
type SourceFactory func(spec SourceSpec) (RowSource, error)

// workerStore is the slice of Store the worker needs.
type workerStore interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*JobView, error)
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status Status, counters *Counters) error
	UpdateFileLocation(ctx context.Context, fileID uuid.UUID, location string) error
}

// Worker generates the artifacts of queued exports. One Handle call processes
// one dispatched job end to end: claim it, stream its rows into the artifact
// store as CSV, and land the job in a terminal status.
type Worker struct {
	store     workerStore
	artifacts ArtifactStore
	sources   SourceFactory
	cache     *StatusCache
	logger    logger.Logger
	metrics   *Metrics
}

// NewWorker wires a worker over the relational store. cache and metrics may
// be nil.
func NewWorker(store *Store, db *postgres.Adapter, artifacts ArtifactStore, cache *StatusCache, log logger.Logger, metrics *Metrics) *Worker {
	factory := func(spec SourceSpec) (RowSource, error) {
		return NewSQLRowSource(db, spec)
	}
	return newWorker(store, artifacts, factory, cache, log, metrics)
}

func newWorker(store workerStore, artifacts ArtifactStore, sources SourceFactory, cache *StatusCache, log logger.Logger, metrics *Metrics) *Worker {
	return &Worker{
		store:     store,
		artifacts: artifacts,
		sources:   sources,
		cache:     cache,
		logger:    log,
		metrics:   metrics,
	}
}

// Handler adapts the worker to the queue consumer contract.
func (w *Worker) Handler() queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		return w.Handle(ctx, task)
	}
}

// Handle processes one dispatched export task. A nil return acknowledges the
// message; an error leaves it on the queue for redelivery. Poison messages
// and jobs that already reached a terminal status are acknowledged without
// work, so redeliveries are harmless.
func (w *Worker) Handle(ctx context.Context, task queue.Task) error {
	start := time.Now()

	var payload TaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		w.dropPoisonTask(ctx, task, err)
		return nil
	}

	log := w.logger.WithContext(ctx).With("job_id", payload.JobID)

	view, err := w.store.GetJob(ctx, payload.JobID)
	if errors.Is(err, ErrJobNotFound) {
		log.Warn("dropping task for unknown job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", payload.JobID, err)
	}
	if view.Status.Terminal() {
		log.Info("skipping redelivered task, job already terminal", "status", view.Status)
		return nil
	}

	// Claiming is the conditional Queued->Processing update; losing the race
	// to a concurrent consumer just means acknowledging the duplicate.
	if err := w.store.UpdateJobStatus(ctx, payload.JobID, StatusProcessing, nil); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Info("skipping task, job claimed elsewhere")
			return nil
		}
		return fmt.Errorf("failed to claim job %s: %w", payload.JobID, err)
	}
	w.cache.Invalidate(ctx, payload.JobID)
	log.Info("export generation started", "operation", view.OperationName)

	counters, err := w.generate(ctx, view, payload.Predicate)
	if err != nil {
		w.failJob(ctx, payload.JobID, counters, log, err)
		return nil
	}

	if err := w.store.UpdateJobStatus(ctx, payload.JobID, StatusCompleted, &counters); err != nil {
		log.Error("failed to complete job", "error", err)
		return fmt.Errorf("failed to complete job %s: %w", payload.JobID, err)
	}
	w.cache.Invalidate(ctx, payload.JobID)
	w.metrics.jobCompleted(ModeAsync, start)
	w.metrics.rowsStreamed(counters.Processed)
	log.Info("export generation completed", "rows", counters.Processed, "location", view.FileLocation)
	return nil
}

// generate streams the export query into the artifact store as CSV. The pipe
// couples the producer to the uploader so rows are never buffered in full.
func (w *Worker) generate(ctx context.Context, view *JobView, spec SourceSpec) (Counters, error) {
	if view.FileLocation == "" {
		return Counters{}, fmt.Errorf("job %s has no artifact location", view.JobID)
	}

	src, err := w.sources(spec)
	if err != nil {
		return Counters{}, fmt.Errorf("failed to build row source: %w", err)
	}

	type streamResult struct {
		counters Counters
		err      error
	}

	pr, pw := io.Pipe()
	results := make(chan streamResult, 1)
	go func() {
		var res streamResult
		enc := NewCSVEncoder(pw, src.Headers())
		res.err = src.Stream(ctx, func(row []string) error {
			if err := enc.Write(row); err != nil {
				return err
			}
			res.counters.Processed++
			res.counters.Imported++
			return nil
		})
		if res.err == nil {
			res.err = enc.Flush()
		}
		pw.CloseWithError(res.err)
		results <- res
	}()

	_, uploadErr := w.artifacts.Upload(ctx, view.FileLocation, pr, ContentTypeCSV,
		map[string]string{"job_id": view.JobID.String()})
	pr.CloseWithError(uploadErr)
	res := <-results

	if res.err != nil {
		res.counters.Errored++
		return res.counters, fmt.Errorf("failed to stream export rows: %w", res.err)
	}
	if uploadErr != nil {
		res.counters.Errored++
		return res.counters, fmt.Errorf("failed to upload export artifact: %w", uploadErr)
	}

	if err := w.store.UpdateFileLocation(ctx, view.FileID, view.FileLocation); err != nil {
		return res.counters, err
	}
	return res.counters, nil
}

func (w *Worker) failJob(ctx context.Context, jobID uuid.UUID, counters Counters, log logger.Logger, cause error) {
	if err := w.store.UpdateJobStatus(ctx, jobID, StatusFailed, &counters); err != nil {
		log.Error("failed to mark job failed", "error", err, "cause", cause)
	}
	w.cache.Invalidate(ctx, jobID)
	w.metrics.jobFailed(ModeAsync)
	log.Error("export generation failed", "rows", counters.Processed, "error", cause)
}

// dropPoisonTask marks the referenced job Failed when the payload cannot even
// be decoded, so the client's poll does not hang on Queued forever.
func (w *Worker) dropPoisonTask(ctx context.Context, task queue.Task, cause error) {
	log := w.logger.WithContext(ctx).With("job_id", task.JobID)
	log.Error("dropping undecodable export task", "error", cause)

	jobID, err := uuid.Parse(task.JobID)
	if err != nil {
		return
	}
	if err := w.store.UpdateJobStatus(ctx, jobID, StatusFailed, nil); err != nil {
		log.Error("failed to mark job failed", "error", err)
	}
	w.cache.Invalidate(ctx, jobID)
	w.metrics.jobFailed(ModeAsync)
}
