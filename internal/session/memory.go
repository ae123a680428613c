package session

import (
	"context"
	"sync"
	"time"

	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// entry pairs a session with its own lock so updates to different
// sessions never contend. The map-level lock is held only for lookup
// and insert/remove, never across a mutation.
type entry struct {
	mu        sync.Mutex
	sess      *types.UploadSession
	expiresAt time.Time
}

// MemoryStore is the in-process Store used for single-instance
// deployments and tests. Expired entries are dropped lazily on access
// and by List.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore creates an empty in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (ms *MemoryStore) Create(ctx context.Context, sess *types.UploadSession, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if e, ok := ms.entries[sess.ID]; ok && time.Now().Before(e.expiresAt) {
		return apperr.New(apperr.KindConflict, "session %s already exists", sess.ID)
	}
	ms.entries[sess.ID] = &entry{
		sess:      sess.Clone(),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	e, err := ms.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

func (ms *MemoryStore) Update(ctx context.Context, id string, fn Mutation) (*types.UploadSession, error) {
	e, err := ms.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Mutate a copy so a failed mutation leaves the stored session
	// exactly as it was.
	updated := e.sess.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	e.sess = updated
	return updated.Clone(), nil
}

func (ms *MemoryStore) Delete(ctx context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, id)
	return nil
}

func (ms *MemoryStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	e, err := ms.lookup(id)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	e.expiresAt = time.Now().Add(ttl)
	ms.mu.Unlock()
	return nil
}

func (ms *MemoryStore) List(ctx context.Context) ([]*types.UploadSession, error) {
	ms.mu.RLock()
	live := make([]*entry, 0, len(ms.entries))
	now := time.Now()
	for _, e := range ms.entries {
		if now.Before(e.expiresAt) {
			live = append(live, e)
		}
	}
	ms.mu.RUnlock()

	out := make([]*types.UploadSession, 0, len(live))
	for _, e := range live {
		e.mu.Lock()
		out = append(out, e.sess.Clone())
		e.mu.Unlock()
	}
	return out, nil
}

// lookup returns the live entry for id, purging it if its TTL has
// passed.
func (ms *MemoryStore) lookup(id string) (*entry, error) {
	ms.mu.RLock()
	e, ok := ms.entries[id]
	var expiresAt time.Time
	if ok {
		expiresAt = e.expiresAt
	}
	ms.mu.RUnlock()

	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "session %s not found", id)
	}
	if !time.Now().Before(expiresAt) {
		ms.mu.Lock()
		if cur, still := ms.entries[id]; still && cur == e {
			delete(ms.entries, id)
		}
		ms.mu.Unlock()
		return nil, apperr.New(apperr.KindNotFound, "session %s not found", id)
	}
	return e, nil
}
