package artifact

import (
	"context"
	"sync"
	"time"

	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// MemoryStore is an in-process artifact store for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.Artifact
}

// NewMemoryStore creates an empty in-process artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]types.Artifact)}
}

func (ms *MemoryStore) Create(ctx context.Context, rec *types.Artifact) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.records[rec.FileID]; ok {
		return apperr.New(apperr.KindConflict, "artifact %s already recorded", rec.FileID)
	}
	ms.records[rec.FileID] = *rec
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, fileID string) (*types.Artifact, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rec, ok := ms.records[fileID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "artifact %s not found", fileID)
	}
	return &rec, nil
}

func (ms *MemoryStore) Delete(ctx context.Context, fileID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.records, fileID)
	return nil
}

func (ms *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]*types.Artifact, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*types.Artifact
	for _, rec := range ms.records {
		if rec.ExpiresAt.Before(now) {
			r := rec
			out = append(out, &r)
		}
	}
	return out, nil
}
