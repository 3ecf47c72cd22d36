package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/models"
)

// Handler processes one job of a registered type. The payload arrives as the
// raw JSON admitted with the job; each handler decodes its own typed payload.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) error {
	return f(ctx, job)
}

// EventPublisher receives job lifecycle events. Implementations may be nil-safe
// no-ops; the worker never fails a job over a publish error.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, jobID uuid.UUID, event string) error
}

// WorkerConfig tunes the polling worker.
type WorkerConfig struct {
	PollInterval  time.Duration
	MaxConcurrent int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// Worker is a polling, concurrency-bounded job executor. All of its mutable
// state (handler registry, in-flight set) is owned by the instance so multiple
// independent workers can run side by side in tests.
type Worker struct {
	store    Store
	cfg      WorkerConfig
	events   EventPublisher
	handlers map[models.JobType]Handler

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a worker over the given store. events may be nil.
func NewWorker(store Store, cfg WorkerConfig, events EventPublisher) *Worker {
	return &Worker{
		store:    store,
		cfg:      cfg.withDefaults(),
		events:   events,
		handlers: make(map[models.JobType]Handler),
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Register binds a handler to a job type. Registration is open: new job kinds
// plug in without touching the poll loop.
func (w *Worker) Register(jobType models.JobType, handler Handler) {
	w.handlers[jobType] = handler
}

// Run polls for pending jobs until ctx is cancelled, then waits for in-flight
// handlers to finish.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("max_concurrent", w.cfg.MaxConcurrent).
		Msg("Worker started")

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Worker stopping, waiting for in-flight jobs")
			w.wg.Wait()
			return ctx.Err()
		case <-sweep.C:
			w.reclaimStale(ctx)
		case <-poll.C:
			w.tick(ctx)
		}
	}
}

// ActiveCount returns the number of jobs currently being handled.
func (w *Worker) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlight)
}

func (w *Worker) tick(ctx context.Context) {
	w.mu.Lock()
	capacity := w.cfg.MaxConcurrent - len(w.inFlight)
	exclude := make([]uuid.UUID, 0, len(w.inFlight))
	for id := range w.inFlight {
		exclude = append(exclude, id)
	}
	w.mu.Unlock()

	if capacity <= 0 {
		return
	}

	claimed, err := w.store.ClaimPending(ctx, capacity, exclude)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim pending jobs")
		return
	}

	for _, job := range claimed {
		w.dispatch(ctx, job)
	}
}

func (w *Worker) dispatch(ctx context.Context, job *models.Job) {
	w.mu.Lock()
	w.inFlight[job.ID] = struct{}{}
	w.mu.Unlock()

	// Handlers run detached from the poll context: cancelling Run stops new
	// claims, while already-claimed jobs finish and land on a terminal status.
	runCtx := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, job.ID)
			w.mu.Unlock()
		}()
		w.runHandler(runCtx, job)
	}()
}

// runHandler executes the registered handler and always lands the job on a
// terminal status, including on panic.
func (w *Worker) runHandler(ctx context.Context, job *models.Job) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		w.fail(ctx, job, fmt.Sprintf("no handler registered for job type %q", job.Type))
		return
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("type", string(job.Type)).
		Int("attempts", job.Attempts).
		Msg("Job dispatched")

	var handlerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("handler panic: %v", r)
			}
		}()
		handlerErr = handler.Handle(ctx, job)
	}()

	if handlerErr != nil {
		w.fail(ctx, job, handlerErr.Error())
		return
	}

	if err := w.store.MarkCompleted(ctx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark job completed")
	}
	w.publish(ctx, job.ID, "job_completed")
	log.Info().Str("job_id", job.ID.String()).Msg("Job completed")
}

func (w *Worker) fail(ctx context.Context, job *models.Job, msg string) {
	log.Error().
		Str("job_id", job.ID.String()).
		Str("type", string(job.Type)).
		Str("error", msg).
		Msg("Job failed")

	if err := w.store.MarkFailed(ctx, job.ID, msg); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark job failed")
	}
	w.publish(ctx, job.ID, "job_failed")
}

func (w *Worker) reclaimStale(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.StaleAfter)
	n, err := w.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Stale job sweep failed")
		return
	}
	if n > 0 {
		log.Warn().Int("reclaimed", n).Msg("Reset stale processing jobs to pending")
	}
}

func (w *Worker) publish(ctx context.Context, jobID uuid.UUID, event string) {
	if w.events == nil {
		return
	}
	if err := w.events.PublishJobEvent(ctx, jobID, event); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Str("event", event).Msg("Failed to publish job event")
	}
}
