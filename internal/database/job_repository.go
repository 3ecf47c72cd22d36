package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stillloop/mantra/internal/jobs"
	"github.com/stillloop/mantra/internal/models"
)

// JobRepository handles job-related database operations. It implements
// jobs.Store.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, type, status, payload, attempts, error, created_at, started_at, finished_at, deadline_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &job.Payload, &job.Attempts,
		&job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		&job.DeadlineAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Create creates a new job
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, type, status, payload, attempts, created_at, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Type, job.Status, []byte(job.Payload), job.Attempts,
		job.CreatedAt, job.DeadlineAt,
	)

	return err
}

// Get retrieves a job by ID
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, jobs.ErrJobNotFound
	}
	return job, err
}

// ListActiveByType retrieves the most recent pending/processing jobs of the
// given type, newest first. Used by idempotent admission.
func (r *JobRepository) ListActiveByType(ctx context.Context, jobType models.JobType, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, jobType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}

	return out, rows.Err()
}

// ClaimPending atomically moves up to limit pending jobs to processing and
// returns them oldest first. SKIP LOCKED lets multiple worker instances claim
// without blocking on each other.
func (r *JobRepository) ClaimPending(ctx context.Context, limit int, exclude []uuid.UUID) ([]*models.Job, error) {
	if exclude == nil {
		exclude = []uuid.UUID{}
	}

	query := `
		UPDATE jobs SET
			status = 'processing',
			attempts = attempts + 1,
			started_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND NOT (id = ANY($1))
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query, pq.Array(exclude), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, job)
	}

	return claimed, rows.Err()
}

// MarkCompleted marks a job as completed
func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.finish(ctx, id, models.JobStatusCompleted, nil)
}

// MarkFailed marks a job as failed with an error message
func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return r.finish(ctx, id, models.JobStatusFailed, &errMsg)
}

func (r *JobRepository) finish(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg *string) error {
	query := `
		UPDATE jobs SET status = $1, error = $2, finished_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, errMsg, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// ReclaimStale resets processing jobs started before the cutoff back to
// pending so a crashed worker's claims get picked up again.
func (r *JobRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE jobs SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
