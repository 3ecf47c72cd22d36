package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/models"
	"github.com/stillloop/mantra/internal/orchestrator"
)

// SessionRepository handles session, affirmation, and audio-link database
// operations. It implements orchestrator.SessionStore.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession creates a new session
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, title, intention, voice_id, pace, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.Title, session.Intention, session.VoiceID,
		session.Pace, session.CreatedAt,
	)

	return err
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `
		SELECT id, title, intention, voice_id, pace, created_at
		FROM sessions WHERE id = $1
	`

	session := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.Title, &session.Intention, &session.VoiceID,
		&session.Pace, &session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, orchestrator.ErrSessionNotFound
	}

	return session, err
}

// ListAffirmations retrieves a session's affirmations in narration order
func (r *SessionRepository) ListAffirmations(ctx context.Context, sessionID uuid.UUID) ([]*models.Affirmation, error) {
	query := `
		SELECT id, session_id, idx, text, moderation_status, created_at
		FROM affirmations
		WHERE session_id = $1
		ORDER BY idx ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var affirmations []*models.Affirmation
	for rows.Next() {
		a := &models.Affirmation{}
		err := rows.Scan(
			&a.ID, &a.SessionID, &a.Idx, &a.Text, &a.ModerationStatus,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		affirmations = append(affirmations, a)
	}

	return affirmations, rows.Err()
}

// SaveAffirmations inserts a session's affirmations in one transaction.
// Conflicting rows are left untouched so a retrying job never overwrites
// text that was already narrated.
func (r *SessionRepository) SaveAffirmations(ctx context.Context, affirmations []*models.Affirmation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO affirmations (id, session_id, idx, text, moderation_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, idx) DO NOTHING
	`

	for _, a := range affirmations {
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.SessionID, a.Idx, a.Text, a.ModerationStatus, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert affirmation %d: %w", a.Idx, err)
		}
	}

	return tx.Commit()
}

// LinkAudio points a session at its merged audio asset, replacing any
// previous link.
func (r *SessionRepository) LinkAudio(ctx context.Context, link *models.SessionAudio) error {
	query := `
		INSERT INTO session_audio (session_id, asset_id, generated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			asset_id = EXCLUDED.asset_id,
			generated_at = EXCLUDED.generated_at
	`

	_, err := r.db.ExecContext(ctx, query, link.SessionID, link.AssetID, link.GeneratedAt)
	return err
}

// GetSessionAudio retrieves a session's audio link together with the linked
// asset. Returns sql.ErrNoRows when the session has no audio yet.
func (r *SessionRepository) GetSessionAudio(ctx context.Context, sessionID uuid.UUID) (*models.SessionAudio, *models.AudioAsset, error) {
	query := `
		SELECT sa.session_id, sa.asset_id, sa.generated_at,
			a.id, a.kind, a.content_hash, a.location, a.metadata, a.created_at
		FROM session_audio sa
		JOIN audio_assets a ON a.id = sa.asset_id
		WHERE sa.session_id = $1
	`

	link := &models.SessionAudio{}
	asset := &models.AudioAsset{}
	var metaJSON []byte

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&link.SessionID, &link.AssetID, &link.GeneratedAt,
		&asset.ID, &asset.Kind, &asset.ContentHash, &asset.Location,
		&metaJSON, &asset.CreatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &asset.Metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return link, asset, nil
}

// RecordProvenance replaces the chunk provenance rows for a merged asset in
// one transaction.
func (r *SessionRepository) RecordProvenance(ctx context.Context, entries []*models.ChunkProvenance) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_provenance WHERE asset_id = $1`,
		entries[0].AssetID,
	); err != nil {
		return fmt.Errorf("failed to clear provenance: %w", err)
	}

	query := `
		INSERT INTO chunk_provenance (
			id, session_id, asset_id, kind, idx, storage_key,
			duration_ms, codec, checksum, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query,
			e.ID, e.SessionID, e.AssetID, e.Kind, e.Idx, e.StorageKey,
			e.DurationMs, e.Codec, e.Checksum, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert provenance %d: %w", e.Idx, err)
		}
	}

	return tx.Commit()
}
