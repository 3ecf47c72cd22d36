package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/jobs"
	"github.com/stillloop/mantra/internal/models"
	"github.com/stillloop/mantra/internal/orchestrator"
)

// fakeSessionStore is a minimal SessionStore for handler tests.
type fakeSessionStore struct {
	sessions map[uuid.UUID]*models.Session
	links    map[uuid.UUID]*models.SessionAudio
	assets   map[uuid.UUID]*models.AudioAsset
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*models.Session),
		links:    make(map[uuid.UUID]*models.SessionAudio),
		assets:   make(map[uuid.UUID]*models.AudioAsset),
	}
}

func (f *fakeSessionStore) CreateSession(_ context.Context, s *models.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, orchestrator.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) ListAffirmations(context.Context, uuid.UUID) ([]*models.Affirmation, error) {
	return nil, nil
}

func (f *fakeSessionStore) SaveAffirmations(context.Context, []*models.Affirmation) error {
	return nil
}

func (f *fakeSessionStore) LinkAudio(_ context.Context, link *models.SessionAudio) error {
	f.links[link.SessionID] = link
	return nil
}

func (f *fakeSessionStore) RecordProvenance(context.Context, []*models.ChunkProvenance) error {
	return nil
}

func (f *fakeSessionStore) GetSessionAudio(_ context.Context, sessionID uuid.UUID) (*models.SessionAudio, *models.AudioAsset, error) {
	link, ok := f.links[sessionID]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	return link, f.assets[link.AssetID], nil
}

func newTestHandler() (*Handler, *fakeSessionStore) {
	store := newFakeSessionStore()
	queue := jobs.NewQueue(jobs.NewMemoryStore(), 50, 10*time.Minute)
	return NewHandler(store, queue, nil), store
}

func do(h *Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	h, store := newTestHandler()

	rec := do(h, http.MethodPost, "/v1/sessions",
		[]byte(`{"title":"Morning","intention":"deep focus","pace":"slow"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var session models.Session
	if err := json.NewDecoder(rec.Body).Decode(&session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.Pace != "slow" || session.VoiceID != "default" {
		t.Errorf("session %+v", session)
	}
	if _, ok := store.sessions[session.ID]; !ok {
		t.Error("session not persisted")
	}
}

func TestCreateSession_Validation(t *testing.T) {
	h, _ := newTestHandler()

	if rec := do(h, http.MethodPost, "/v1/sessions", []byte(`{invalid`)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json: %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/v1/sessions", []byte(`{"title":"x"}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing intention: %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/v1/sessions", []byte(`{"intention":"x","pace":"frantic"}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad pace: %d", rec.Code)
	}
}

// TestEnsureAudio_Idempotent asserts the first request admits a job (202) and
// a repeat returns the same job (200) instead of queueing another.
func TestEnsureAudio_Idempotent(t *testing.T) {
	h, store := newTestHandler()
	session := &models.Session{ID: uuid.New(), Intention: "focus", VoiceID: "v", Pace: "medium"}
	store.sessions[session.ID] = session

	path := "/v1/sessions/" + session.ID.String() + "/audio"

	rec := do(h, http.MethodPost, path, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var first models.EnqueueAudioResponse
	if err := json.NewDecoder(rec.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Status != models.JobStatusPending {
		t.Errorf("status %s", first.Status)
	}
	if first.Deadline.IsZero() {
		t.Error("deadline not stamped")
	}

	rec = do(h, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", rec.Code)
	}
	var second models.EnqueueAudioResponse
	if err := json.NewDecoder(rec.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.JobID != first.JobID {
		t.Errorf("repeat admitted a new job %s, want %s", second.JobID, first.JobID)
	}
}

func TestEnsureAudio_UnknownSession(t *testing.T) {
	h, _ := newTestHandler()
	rec := do(h, http.MethodPost, "/v1/sessions/"+uuid.NewString()+"/audio", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	h, store := newTestHandler()
	session := &models.Session{ID: uuid.New(), Intention: "focus"}
	store.sessions[session.ID] = session

	rec := do(h, http.MethodPost, "/v1/sessions/"+session.ID.String()+"/audio", nil)
	var admitted models.EnqueueAudioResponse
	if err := json.NewDecoder(rec.Body).Decode(&admitted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(h, http.MethodGet, "/v1/jobs/"+admitted.JobID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status models.JobStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Job.ID != admitted.JobID || status.Expired {
		t.Errorf("status %+v", status)
	}

	if rec := do(h, http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v1/jobs/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: %d", rec.Code)
	}
}

func TestGetSessionAudio(t *testing.T) {
	h, store := newTestHandler()
	session := &models.Session{ID: uuid.New(), Intention: "focus"}
	store.sessions[session.ID] = session

	// No audio yet.
	path := "/v1/sessions/" + session.ID.String() + "/audio"
	if rec := do(h, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before generation, got %d", rec.Code)
	}

	asset := &models.AudioAsset{
		ID:       uuid.New(),
		Kind:     models.AssetKindMergedTrack,
		Location: "https://cdn.example.com/merged/abc.m4a",
		Metadata: map[string]any{"duration_ms": float64(30000)},
	}
	store.assets[asset.ID] = asset
	store.links[session.ID] = &models.SessionAudio{
		SessionID:   session.ID,
		AssetID:     asset.ID,
		GeneratedAt: time.Now(),
	}

	rec := do(h, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.SessionAudioResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AssetID != asset.ID || resp.DownloadURL != asset.Location {
		t.Errorf("response %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler()
	if rec := do(h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health: %d", rec.Code)
	}

	failing := NewHandler(newFakeSessionStore(), jobs.NewQueue(jobs.NewMemoryStore(), 50, time.Minute),
		func() error { return sql.ErrConnDone })
	if rec := do(failing, http.MethodGet, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing health: %d", rec.Code)
	}
}
