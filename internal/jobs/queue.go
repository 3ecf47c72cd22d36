package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/models"
)

// Queue is the job submission surface exposed to the HTTP layer.
type Queue struct {
	store           Store
	scanWindow      int
	pendingDeadline time.Duration
}

// NewQueue creates a queue over the given store. scanWindow bounds the
// find-or-create dedup scan; pendingDeadline is the client-visible deadline
// stamped on every admitted job.
func NewQueue(store Store, scanWindow int, pendingDeadline time.Duration) *Queue {
	return &Queue{
		store:           store,
		scanWindow:      scanWindow,
		pendingDeadline: pendingDeadline,
	}
}

// Create always admits a new job.
func (q *Queue) Create(ctx context.Context, jobType models.JobType, payload any) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	job := &models.Job{
		ID:         uuid.New(),
		Type:       jobType,
		Status:     models.JobStatusPending,
		Payload:    data,
		CreatedAt:  now,
		DeadlineAt: now.Add(q.pendingDeadline),
	}

	if err := q.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("type", string(jobType)).
		Msg("Job created")

	return job, nil
}

// targetPayload is the shape find-or-create matches against: any payload
// carrying a session_id is deduped per session.
type targetPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// FindOrCreate returns an existing active job of the given type whose payload
// references targetID, or creates a new one. The dedup is a bounded scan, not
// a uniqueness constraint: a racing duplicate is acceptable because execution
// is idempotent, just wasteful.
func (q *Queue) FindOrCreate(ctx context.Context, jobType models.JobType, targetID uuid.UUID, payload any) (*models.Job, bool, error) {
	active, err := q.store.ListActiveByType(ctx, jobType, q.scanWindow)
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan active jobs: %w", err)
	}

	for _, job := range active {
		var target targetPayload
		if err := json.Unmarshal(job.Payload, &target); err != nil {
			continue
		}
		if target.SessionID == targetID {
			log.Info().
				Str("job_id", job.ID.String()).
				Str("type", string(jobType)).
				Str("target_id", targetID.String()).
				Msg("Reusing active job")
			return job, false, nil
		}
	}

	job, err := q.Create(ctx, jobType, payload)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Get fetches a job by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return q.store.Get(ctx, id)
}
