package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist in the store.
var ErrJobNotFound = errors.New("job not found")

// Store persists jobs. Implementations: MemoryStore (tests, single process)
// and database.JobRepository (postgres).
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// ListActiveByType returns the most recent pending/processing jobs of the
	// given type, newest first, bounded by limit. Used by idempotent admission.
	ListActiveByType(ctx context.Context, jobType models.JobType, limit int) ([]*models.Job, error)

	// ClaimPending atomically moves up to limit pending jobs to processing,
	// skipping the given ids, and returns them oldest first.
	ClaimPending(ctx context.Context, limit int, exclude []uuid.UUID) ([]*models.Job, error)

	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// ReclaimStale resets processing jobs started before the cutoff back to
	// pending and returns how many were reset.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is an in-memory job store with the same claim and reclamation
// semantics as the postgres repository.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListActiveByType(_ context.Context, jobType models.JobType, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*models.Job
	for _, job := range s.jobs {
		if job.Type == jobType && job.Active() {
			cp := *job
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, limit int, exclude []uuid.UUID) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excluded := make(map[uuid.UUID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var pending []*models.Job
	for _, job := range s.jobs {
		if job.Status != models.JobStatusPending {
			continue
		}
		if _, skip := excluded[job.ID]; skip {
			continue
		}
		pending = append(pending, job)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now()
	claimed := make([]*models.Job, 0, len(pending))
	for _, job := range pending {
		job.Status = models.JobStatusProcessing
		job.Attempts++
		started := now
		job.StartedAt = &started
		cp := *job
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	return s.finish(id, models.JobStatusCompleted, nil)
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	return s.finish(id, models.JobStatusFailed, &errMsg)
}

func (s *MemoryStore) finish(id uuid.UUID, status models.JobStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now()
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = &now
	return nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for _, job := range s.jobs {
		if job.Status != models.JobStatusProcessing || job.StartedAt == nil {
			continue
		}
		if job.StartedAt.Before(cutoff) {
			job.Status = models.JobStatusPending
			job.StartedAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}
