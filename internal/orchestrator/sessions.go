package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/models"
)

// ErrSessionNotFound is returned when the referenced session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the session-side persistence the orchestrator needs.
// Implementations: MemorySessionStore (tests) and database.SessionRepository.
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListAffirmations(ctx context.Context, sessionID uuid.UUID) ([]*models.Affirmation, error)
	SaveAffirmations(ctx context.Context, affirmations []*models.Affirmation) error
	LinkAudio(ctx context.Context, link *models.SessionAudio) error
	RecordProvenance(ctx context.Context, entries []*models.ChunkProvenance) error
}

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*models.Session
	affirmations map[uuid.UUID][]*models.Affirmation
	links        map[uuid.UUID]*models.SessionAudio
	provenance   []*models.ChunkProvenance
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:     make(map[uuid.UUID]*models.Session),
		affirmations: make(map[uuid.UUID][]*models.Affirmation),
		links:        make(map[uuid.UUID]*models.SessionAudio),
	}
}

// PutSession seeds a session.
func (s *MemorySessionStore) PutSession(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
}

func (s *MemorySessionStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemorySessionStore) ListAffirmations(_ context.Context, sessionID uuid.UUID) ([]*models.Affirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	affs := s.affirmations[sessionID]
	out := make([]*models.Affirmation, len(affs))
	for i, a := range affs {
		cp := *a
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

func (s *MemorySessionStore) SaveAffirmations(_ context.Context, affirmations []*models.Affirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range affirmations {
		cp := *a
		s.affirmations[a.SessionID] = append(s.affirmations[a.SessionID], &cp)
	}
	return nil
}

func (s *MemorySessionStore) LinkAudio(_ context.Context, link *models.SessionAudio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *link
	s.links[link.SessionID] = &cp
	return nil
}

// AudioLink returns the recorded link for a session, if any.
func (s *MemorySessionStore) AudioLink(sessionID uuid.UUID) (*models.SessionAudio, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[sessionID]
	if !ok {
		return nil, false
	}
	cp := *link
	return &cp, true
}

func (s *MemorySessionStore) RecordProvenance(_ context.Context, entries []*models.ChunkProvenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		cp := *e
		s.provenance = append(s.provenance, &cp)
	}
	return nil
}

// Provenance returns all recorded provenance entries.
func (s *MemorySessionStore) Provenance() []*models.ChunkProvenance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ChunkProvenance, len(s.provenance))
	copy(out, s.provenance)
	return out
}
