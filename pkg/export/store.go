package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rowmill/rowmill/pkg/observability/logger"
	"github.com/rowmill/rowmill/pkg/store/postgres"
)

// JobView is the joined Job+File projection returned to polling clients.
type JobView struct {
	JobID         uuid.UUID `json:"jobId"`
	Status        Status    `json:"status"`
	OperationName string    `json:"operationName"`
	CreatedBy     string    `json:"createdBy"`
	TenantID      string    `json:"tenantId,omitempty"`
	Processed     int64     `json:"processed"`
	Imported      int64     `json:"imported"`
	Errored       int64     `json:"errored"`
	FileID        uuid.UUID `json:"fileId"`
	FileName      string    `json:"fileName"`
	FileLocation  string    `json:"fileLocation"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store persists File and Job records. It is the only component that writes
// either table: the orchestrator owns the joint-creation transaction, status
// changes go through UpdateJobStatus, and nothing here deletes rows.
type Store struct {
	db     *postgres.Adapter
	logger logger.Logger
	clock  func() time.Time
}

// NewStore creates a Store on the given database adapter.
func NewStore(db *postgres.Adapter, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateFileWithJob persists the File and its owning Job as one atomic unit.
// On any failure nothing is persisted; there is never a File without its Job
// or the reverse.
func (s *Store) CreateFileWithJob(ctx context.Context, file *File, job *Job) error {
	if err := file.Validate(); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.FileID != file.ID {
		return errors.New("job does not reference the file")
	}

	now := s.clock()
	file.CreatedAt = now
	job.CreatedAt = now
	job.UpdatedAt = now

	return s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := s.db.ExecContext(txCtx,
			`INSERT INTO export_files (id, name, type, format, location, mapping, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			file.ID, file.Name, file.Type, file.Format, file.Location, file.Mapping, file.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert export file: %w", err)
		}

		_, err = s.db.ExecContext(txCtx,
			`INSERT INTO export_jobs (id, file_id, status, operation_name, created_by, tenant_id,
			                          processed, imported, errored, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			job.ID, job.FileID, job.Status, job.OperationName, job.CreatedBy, job.TenantID,
			job.Counters.Processed, job.Counters.Imported, job.Counters.Errored,
			job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert export job: %w", err)
		}
		return nil
	})
}

// UpdateJobStatus advances a job to the given status, optionally updating
// its counters. The update is conditional on the current status being a
// legal predecessor, so a terminal job can never move again and concurrent
// writers cannot race a job backwards.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status Status, counters *Counters) error {
	if !status.Valid() {
		return fmt.Errorf("invalid job status %q", status)
	}

	predecessors := legalPredecessors(status)
	if len(predecessors) == 0 {
		return fmt.Errorf("%w: no transition leads to %q", ErrInvalidTransition, status)
	}

	var (
		result sql.Result
		err    error
		now    = s.clock()
	)
	if counters != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE export_jobs
			 SET status = $2, processed = $3, imported = $4, errored = $5, updated_at = $6
			 WHERE id = $1 AND status = ANY($7)`,
			jobID, status, counters.Processed, counters.Imported, counters.Errored, now,
			pq.Array(statusStrings(predecessors)),
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE export_jobs SET status = $2, updated_at = $3
			 WHERE id = $1 AND status = ANY($4)`,
			jobID, status, now, pq.Array(statusStrings(predecessors)),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var current Status
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM export_jobs WHERE id = $1`, jobID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check job status: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	s.logger.Info("export job status updated", "job_id", jobID, "status", status)
	return nil
}

// UpdateFileLocation records the final artifact path once async generation
// has produced it. Location is the only mutable File attribute.
func (s *Store) UpdateFileLocation(ctx context.Context, fileID uuid.UUID, location string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE export_files SET location = $2 WHERE id = $1`, fileID, location,
	)
	if err != nil {
		return fmt.Errorf("failed to update file location: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("export file %s not found", fileID)
	}
	return nil
}

// GetJob loads the joined Job+File view for polling clients.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT j.id, j.status, j.operation_name, j.created_by, j.tenant_id,
		        j.processed, j.imported, j.errored,
		        f.id, f.name, f.location,
		        j.created_at, j.updated_at
		 FROM export_jobs j
		 JOIN export_files f ON f.id = j.file_id
		 WHERE j.id = $1`,
		jobID,
	)

	var view JobView
	err := row.Scan(
		&view.JobID, &view.Status, &view.OperationName, &view.CreatedBy, &view.TenantID,
		&view.Processed, &view.Imported, &view.Errored,
		&view.FileID, &view.FileName, &view.FileLocation,
		&view.CreatedAt, &view.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export job: %w", err)
	}
	return &view, nil
}

// legalPredecessors returns the statuses from which a job may move to next.
func legalPredecessors(next Status) []Status {
	out := make([]Status, 0, 2)
	for _, from := range []Status{StatusQueued, StatusProcessing} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
