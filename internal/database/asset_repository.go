package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/models"
)

// AssetRepository is the postgres-backed content-addressable audio cache. It
// implements assets.Store.
type AssetRepository struct {
	db *DB
}

// NewAssetRepository creates a new AssetRepository
func NewAssetRepository(db *DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Resolve looks up an asset by (kind, content_hash). A miss is (nil, false, nil).
func (r *AssetRepository) Resolve(ctx context.Context, kind models.AssetKind, hash string) (*models.AudioAsset, bool, error) {
	query := `
		SELECT id, kind, content_hash, location, metadata, created_at
		FROM audio_assets
		WHERE kind = $1 AND content_hash = $2
	`

	asset := &models.AudioAsset{}
	var metaJSON []byte

	err := r.db.QueryRowContext(ctx, query, kind, hash).Scan(
		&asset.ID, &asset.Kind, &asset.ContentHash, &asset.Location,
		&metaJSON, &asset.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &asset.Metadata); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return asset, true, nil
}

// Store upserts an asset record keyed by (kind, content_hash). Concurrent
// producers racing on the same key are safe: the first insert wins the
// identity and later writes only refresh location and metadata.
func (r *AssetRepository) Store(ctx context.Context, kind models.AssetKind, hash, location string, metadata map[string]any) (*models.AudioAsset, error) {
	var metaJSON []byte
	var err error

	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audio_assets (id, kind, content_hash, location, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (kind, content_hash) DO UPDATE SET
			location = EXCLUDED.location,
			metadata = COALESCE(EXCLUDED.metadata, audio_assets.metadata)
		RETURNING id, kind, content_hash, location, metadata, created_at
	`

	asset := &models.AudioAsset{}
	var storedMeta []byte

	err = r.db.QueryRowContext(ctx, query, uuid.New(), kind, hash, location, metaJSON).Scan(
		&asset.ID, &asset.Kind, &asset.ContentHash, &asset.Location,
		&storedMeta, &asset.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}

	if len(storedMeta) > 0 {
		if err := json.Unmarshal(storedMeta, &asset.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return asset, nil
}

// GetByID retrieves an asset by ID
func (r *AssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AudioAsset, error) {
	query := `
		SELECT id, kind, content_hash, location, metadata, created_at
		FROM audio_assets
		WHERE id = $1
	`

	asset := &models.AudioAsset{}
	var metaJSON []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&asset.ID, &asset.Kind, &asset.ContentHash, &asset.Location,
		&metaJSON, &asset.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset not found")
	}
	if err != nil {
		return nil, err
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &asset.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return asset, nil
}
