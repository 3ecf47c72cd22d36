package assets

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stillloop/mantra/internal/models"
)

// Store is the content-addressable audio asset cache. A miss is reported via
// the ok flag, never as an error: callers treat it as "go produce this
// content". Store is an upsert keyed by (kind, hash); concurrent producers
// racing on the same key is safe because the content is a pure function of
// the hash.
type Store interface {
	Resolve(ctx context.Context, kind models.AssetKind, hash string) (*models.AudioAsset, bool, error)
	Store(ctx context.Context, kind models.AssetKind, hash, location string, metadata map[string]any) (*models.AudioAsset, error)
}

// MemoryStore is an in-memory Store used in tests and single-process setups.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[assetKey]*models.AudioAsset
}

type assetKey struct {
	kind models.AssetKind
	hash string
}

// NewMemoryStore creates an empty in-memory asset store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[assetKey]*models.AudioAsset)}
}

// Resolve looks up an asset by (kind, hash).
func (s *MemoryStore) Resolve(_ context.Context, kind models.AssetKind, hash string) (*models.AudioAsset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[assetKey{kind: kind, hash: hash}]
	if !ok {
		return nil, false, nil
	}
	cp := *asset
	return &cp, true, nil
}

// Store upserts an asset record. An existing record keeps its identity; the
// location is refreshed and metadata is attached when provided.
func (s *MemoryStore) Store(_ context.Context, kind models.AssetKind, hash, location string, metadata map[string]any) (*models.AudioAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assetKey{kind: kind, hash: hash}
	if existing, ok := s.assets[key]; ok {
		existing.Location = location
		if metadata != nil {
			existing.Metadata = metadata
		}
		cp := *existing
		return &cp, nil
	}

	asset := &models.AudioAsset{
		ID:          uuid.New(),
		Kind:        kind,
		ContentHash: hash,
		Location:    location,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	s.assets[key] = asset
	cp := *asset
	return &cp, nil
}
