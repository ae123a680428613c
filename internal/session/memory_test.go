package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

func newTestSession(id string) *types.UploadSession {
	return &types.UploadSession{
		ID:          id,
		FileID:      "file-" + id,
		TotalChunks: 100,
		TotalSize:   1000,
		Received:    make(map[int]bool),
		CreatedAt:   time.Now(),
		Status:      types.StatusInitialized,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := newTestSession("s1")
	require.NoError(t, store.Create(ctx, sess, time.Minute))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, types.StatusInitialized, got.Status)

	// The store must hand out copies, not shared state.
	got.Received[7] = true
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, again.Received)
}

func TestMemoryStore_CreateConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), time.Minute))

	err := store.Create(ctx, newTestSession("s1"), time.Minute)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := store.Get(ctx, "s1")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// An expired identifier may be reused.
	assert.NoError(t, store.Create(ctx, newTestSession("s1"), time.Minute))
}

func TestMemoryStore_Expire(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), 20*time.Millisecond))
	require.NoError(t, store.Expire(ctx, "s1", time.Minute))

	time.Sleep(40 * time.Millisecond)
	_, err := store.Get(ctx, "s1")
	assert.NoError(t, err, "extended TTL must keep the session alive")
}

func TestMemoryStore_UpdateMergesConcurrentWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := store.Update(ctx, "s1", func(s *types.UploadSession) error {
				s.Received[idx] = true
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.ReceivedCount(), "no concurrent update may be lost")
}

func TestMemoryStore_UpdateFailureLeavesSessionUntouched(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), time.Minute))

	_, err := store.Update(ctx, "s1", func(s *types.UploadSession) error {
		s.Received[3] = true
		return apperr.New(apperr.KindState, "rejected")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Received)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), time.Minute))
	require.NoError(t, store.Delete(ctx, "s1"))

	_, err := store.Get(ctx, "s1")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// Idempotent.
	assert.NoError(t, store.Delete(ctx, "s1"))
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestSession("s1"), time.Minute))
	require.NoError(t, store.Create(ctx, newTestSession("s2"), time.Minute))
	require.NoError(t, store.Create(ctx, newTestSession("s3"), 10*time.Millisecond))

	time.Sleep(25 * time.Millisecond)

	sessions, err := store.List(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
}
