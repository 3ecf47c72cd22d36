package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/models"
)

func TestQueue_CreateStampsDeadline(t *testing.T) {
	store := NewMemoryStore()
	queue := NewQueue(store, 50, 10*time.Minute)

	before := time.Now()
	job, err := queue.Create(context.Background(), models.JobTypeEnsureAudio,
		models.EnsureAudioPayload{SessionID: uuid.New()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if job.Status != models.JobStatusPending {
		t.Errorf("status %s", job.Status)
	}
	wantDeadline := before.Add(10 * time.Minute)
	if job.DeadlineAt.Before(wantDeadline.Add(-time.Second)) || job.DeadlineAt.After(wantDeadline.Add(time.Minute)) {
		t.Errorf("deadline %v not ~10m after creation", job.DeadlineAt)
	}
}

// TestQueue_FindOrCreate_ReusesActiveJob asserts admission is idempotent:
// a second request for the same session while a job is still active returns
// the existing job.
func TestQueue_FindOrCreate_ReusesActiveJob(t *testing.T) {
	store := NewMemoryStore()
	queue := NewQueue(store, 50, 10*time.Minute)
	ctx := context.Background()
	sessionID := uuid.New()

	first, created, err := queue.FindOrCreate(ctx, models.JobTypeEnsureAudio, sessionID,
		models.EnsureAudioPayload{SessionID: sessionID})
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if !created {
		t.Fatal("expected first admission to create")
	}

	second, created, err := queue.FindOrCreate(ctx, models.JobTypeEnsureAudio, sessionID,
		models.EnsureAudioPayload{SessionID: sessionID})
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if created {
		t.Error("expected second admission to reuse")
	}
	if second.ID != first.ID {
		t.Errorf("got different job %s, want %s", second.ID, first.ID)
	}
}

// TestQueue_FindOrCreate_DifferentSessions asserts jobs for distinct sessions
// never dedupe against each other.
func TestQueue_FindOrCreate_DifferentSessions(t *testing.T) {
	store := NewMemoryStore()
	queue := NewQueue(store, 50, 10*time.Minute)
	ctx := context.Background()

	a := uuid.New()
	b := uuid.New()
	jobA, _, err := queue.FindOrCreate(ctx, models.JobTypeEnsureAudio, a, models.EnsureAudioPayload{SessionID: a})
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	jobB, created, err := queue.FindOrCreate(ctx, models.JobTypeEnsureAudio, b, models.EnsureAudioPayload{SessionID: b})
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if !created || jobA.ID == jobB.ID {
		t.Error("distinct sessions should get distinct jobs")
	}
}

// TestQueue_FindOrCreate_TerminalJobsDoNotBlock asserts a completed or failed
// job releases the session: the next request admits a fresh job.
func TestQueue_FindOrCreate_TerminalJobsDoNotBlock(t *testing.T) {
	store := NewMemoryStore()
	queue := NewQueue(store, 50, 10*time.Minute)
	ctx := context.Background()
	sessionID := uuid.New()

	first, _, err := queue.FindOrCreate(ctx, models.JobTypeEnsureAudio, sessionID,
		models.EnsureAudioPayload{SessionID: sessionID})
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if err := store.MarkCompleted(ctx, first.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	second, created, err := queue.FindOrCreate(ctx, models.JobTypeEnsureAudio, sessionID,
		models.EnsureAudioPayload{SessionID: sessionID})
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Error("terminal job should not be reused")
	}
}

func TestJob_Expired(t *testing.T) {
	now := time.Now()
	job := &models.Job{
		Status:     models.JobStatusPending,
		DeadlineAt: now.Add(time.Minute),
	}
	if job.Expired(now) {
		t.Error("job expired before its deadline")
	}
	if !job.Expired(now.Add(2 * time.Minute)) {
		t.Error("active job past deadline should be expired")
	}

	job.Status = models.JobStatusCompleted
	if job.Expired(now.Add(2 * time.Minute)) {
		t.Error("terminal job should never report expired")
	}
}
