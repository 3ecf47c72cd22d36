// Package handlers exposes the HTTP boundary: session creation, audio job
// admission, job polling, and merged-track retrieval. The surface is thin;
// all generation work happens in the background worker.
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/stillloop/mantra/internal/jobs"
	"github.com/stillloop/mantra/internal/models"
	"github.com/stillloop/mantra/internal/orchestrator"
)

// SessionStore is the persistence surface for session endpoints.
// database.SessionRepository satisfies it.
type SessionStore interface {
	orchestrator.SessionStore
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionAudio(ctx context.Context, sessionID uuid.UUID) (*models.SessionAudio, *models.AudioAsset, error)
}

// Handler contains all HTTP handlers
type Handler struct {
	sessions SessionStore
	queue    *jobs.Queue
	health   func() error
}

// NewHandler creates a new handler. health is called by GET /health; nil
// means always healthy.
func NewHandler(sessions SessionStore, queue *jobs.Queue, health func() error) *Handler {
	return &Handler{
		sessions: sessions,
		queue:    queue,
		health:   health,
	}
}

// Router builds the HTTP routing table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions", h.CreateSession).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/audio", h.EnsureAudio).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/audio", h.GetSessionAudio).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	return r
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Title     string `json:"title"`
	Intention string `json:"intention"`
	VoiceID   string `json:"voice_id"`
	Pace      string `json:"pace"`
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Intention) == "" {
		writeJSONError(w, http.StatusBadRequest, "intention is required")
		return
	}
	pace := req.Pace
	switch pace {
	case "":
		pace = "medium"
	case "slow", "medium", "fast":
	default:
		writeJSONError(w, http.StatusBadRequest, "pace must be slow, medium, or fast")
		return
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = "default"
	}

	session := &models.Session{
		ID:        uuid.New(),
		Title:     req.Title,
		Intention: req.Intention,
		VoiceID:   voiceID,
		Pace:      pace,
		CreatedAt: time.Now(),
	}
	if err := h.sessions.CreateSession(r.Context(), session); err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// EnsureAudio handles POST /v1/sessions/{id}/audio.
// Admission is idempotent: repeated requests while a job for the session is
// still active return that job instead of queueing another.
func (h *Handler) EnsureAudio(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load session")
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	job, created, err := h.queue.FindOrCreate(r.Context(), models.JobTypeEnsureAudio, sessionID,
		models.EnsureAudioPayload{SessionID: sessionID})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to admit job")
		writeJSONError(w, http.StatusInternalServerError, "failed to admit job")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, models.EnqueueAudioResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Deadline:  job.DeadlineAt,
		CreatedAt: job.CreatedAt,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.queue.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeJSONError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to get job")
		writeJSONError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, models.JobStatusResponse{
		Job:     job,
		Expired: job.Expired(time.Now()),
	})
}

// GetSessionAudio handles GET /v1/sessions/{id}/audio
func (h *Handler) GetSessionAudio(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	link, asset, err := h.sessions.GetSessionAudio(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSONError(w, http.StatusNotFound, "session has no audio yet")
			return
		}
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to get session audio")
		writeJSONError(w, http.StatusInternalServerError, "failed to get session audio")
		return
	}

	resp := models.SessionAudioResponse{
		SessionID:   link.SessionID,
		AssetID:     asset.ID,
		Location:    asset.Location,
		Metadata:    asset.Metadata,
		GeneratedAt: link.GeneratedAt,
	}
	if strings.HasPrefix(asset.Location, "http") {
		resp.DownloadURL = asset.Location
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
