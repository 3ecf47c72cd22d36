package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AssetKind identifies the class of a cached audio asset.
type AssetKind string

const (
	AssetKindSilence     AssetKind = "silence"
	AssetKindTTSChunk    AssetKind = "tts_chunk"
	AssetKindMergedTrack AssetKind = "merged_track"
)

// AudioAsset is one entry in the content-addressable audio cache.
// (Kind, ContentHash) is unique; the hash is derived from the logical
// description of the content, never from file paths or timestamps.
type AudioAsset struct {
	ID          uuid.UUID      `json:"id"`
	Kind        AssetKind      `json:"kind"`
	ContentHash string         `json:"content_hash"`
	Location    string         `json:"location"` // local path or object-store URL
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// JobType identifies a registered job handler.
type JobType string

const (
	JobTypeEnsureAudio JobType = "ensure_audio"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents a queued unit of background work.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Type       JobType         `json:"type"`
	Status     JobStatus       `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	// DeadlineAt is the server-side deadline after which clients should stop
	// waiting on a pending/processing job and fall back to the silent source.
	DeadlineAt time.Time `json:"deadline_at"`
}

// Active reports whether the job still occupies its logical target
// (pending or processing) for idempotent admission purposes.
func (j *Job) Active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusProcessing
}

// Expired reports whether the job ran past its client-visible deadline.
func (j *Job) Expired(now time.Time) bool {
	return j.Active() && now.After(j.DeadlineAt)
}

// EnsureAudioPayload is the typed payload for ensure_audio jobs.
type EnsureAudioPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Session is a meditation session owning a list of affirmations and,
// once generation completes, a merged audio track.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Intention string    `json:"intention"` // user-stated goal the affirmations are written for
	VoiceID   string    `json:"voice_id"`
	Pace      string    `json:"pace"` // slow, medium, fast
	CreatedAt time.Time `json:"created_at"`
}

// Affirmation is one line of narrated text within a session.
type Affirmation struct {
	ID               uuid.UUID `json:"id"`
	SessionID        uuid.UUID `json:"session_id"`
	Idx              int       `json:"idx"`
	Text             string    `json:"text"`
	ModerationStatus string    `json:"moderation_status"` // pending, approved, rejected
	CreatedAt        time.Time `json:"created_at"`
}

// SessionAudio links a session to its merged audio asset.
type SessionAudio struct {
	SessionID   uuid.UUID `json:"session_id"`
	AssetID     uuid.UUID `json:"asset_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ChunkProvenance records one constituent chunk of a merged track for audit.
type ChunkProvenance struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	AssetID    uuid.UUID `json:"asset_id"` // the merged track asset
	Kind       AssetKind `json:"kind"`
	Idx        int       `json:"idx"`
	StorageKey string    `json:"storage_key"`
	DurationMs int64     `json:"duration_ms"`
	Codec      string    `json:"codec"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// TimingSegment is one speech window within an audio file, in milliseconds
// from the start of the file.
type TimingSegment struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// EnqueueAudioResponse is returned when an ensure_audio job is admitted.
type EnqueueAudioResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    JobStatus `json:"status"`
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`
}

// JobStatusResponse is the polling view of a job.
type JobStatusResponse struct {
	Job     *Job `json:"job"`
	Expired bool `json:"expired"`
}

// SessionAudioResponse describes the merged track for a session.
type SessionAudioResponse struct {
	SessionID   uuid.UUID      `json:"session_id"`
	AssetID     uuid.UUID      `json:"asset_id"`
	Location    string         `json:"location"`
	DownloadURL string         `json:"download_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}
