package assembler

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherdrop/cipherdrop/internal/storage"
	"github.com/cipherdrop/cipherdrop/pkg/apperr"
)

func setupAssembler(t *testing.T) (*Assembler, storage.BlobStorage) {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return New(blobs, 1<<20), blobs
}

func readArtifact(t *testing.T, blobs storage.BlobStorage, path string) []byte {
	t.Helper()
	reader, err := blobs.Retrieve(context.Background(), path)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	return data
}

func TestAssembler_StoreRejectsOversizedChunk(t *testing.T) {
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	asm := New(blobs, 8)

	err = asm.Store(context.Background(), "s1", 0, []byte("this payload is too large"))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "8 B")

	assert.NoError(t, asm.Store(context.Background(), "s1", 0, []byte("eightby!")))
}

func TestAssembler_StoreReplacesPriorPayload(t *testing.T) {
	asm, blobs := setupAssembler(t)
	ctx := context.Background()

	require.NoError(t, asm.Store(ctx, "s1", 0, []byte("first")))
	require.NoError(t, asm.Store(ctx, "s1", 0, []byte("second")))

	got := readArtifact(t, blobs, "staging/s1/0")
	assert.Equal(t, []byte("second"), got)
}

func TestAssembler_MergeIsOrderedByIndex(t *testing.T) {
	asm, blobs := setupAssembler(t)
	ctx := context.Background()

	chunks := [][]byte{
		[]byte("alpha-"),
		[]byte("bravo-"),
		[]byte("charlie-"),
		[]byte("delta"),
	}
	var expected []byte
	var total int64
	for _, c := range chunks {
		expected = append(expected, c...)
		total += int64(len(c))
	}

	// Store in a shuffled arrival order; assembly must not care.
	order := rand.Perm(len(chunks))
	for _, i := range order {
		require.NoError(t, asm.Store(ctx, "s1", i, chunks[i]))
	}

	written, err := asm.Merge(ctx, "s1", len(chunks), total, "files/f1")
	require.NoError(t, err)
	assert.Equal(t, total, written)
	assert.Equal(t, expected, readArtifact(t, blobs, "files/f1"))

	// Staging is cleaned on success.
	paths, err := blobs.List(ctx, "staging/s1")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestAssembler_MergeMissingChunk(t *testing.T) {
	asm, blobs := setupAssembler(t)
	ctx := context.Background()

	require.NoError(t, asm.Store(ctx, "s1", 0, []byte("aaa")))
	require.NoError(t, asm.Store(ctx, "s1", 2, []byte("ccc")))

	_, err := asm.Merge(ctx, "s1", 3, 9, "files/f1")
	assert.True(t, apperr.IsKind(err, apperr.KindIntegrity))

	// No artifact is produced and staging is cleaned even on failure.
	exists, existsErr := blobs.Exists(ctx, "files/f1")
	require.NoError(t, existsErr)
	assert.False(t, exists)

	paths, listErr := blobs.List(ctx, "staging/s1")
	require.NoError(t, listErr)
	assert.Empty(t, paths)
}

func TestAssembler_MergeSizeMismatch(t *testing.T) {
	asm, blobs := setupAssembler(t)
	ctx := context.Background()

	require.NoError(t, asm.Store(ctx, "s1", 0, []byte("aaa")))
	require.NoError(t, asm.Store(ctx, "s1", 1, []byte("bbb")))

	_, err := asm.Merge(ctx, "s1", 2, 100, "files/f1")
	assert.True(t, apperr.IsKind(err, apperr.KindIntegrity))

	exists, existsErr := blobs.Exists(ctx, "files/f1")
	require.NoError(t, existsErr)
	assert.False(t, exists)
}

func TestAssembler_MergeSingleChunk(t *testing.T) {
	asm, blobs := setupAssembler(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0xAB}, 1024)
	require.NoError(t, asm.Store(ctx, "s1", 0, payload))

	written, err := asm.Merge(ctx, "s1", 1, 1024, "files/f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), written)
	assert.Equal(t, payload, readArtifact(t, blobs, "files/f1"))
}

func TestAssembler_CleanupIsIdempotent(t *testing.T) {
	asm, blobs := setupAssembler(t)
	ctx := context.Background()

	require.NoError(t, asm.Store(ctx, "s1", 0, []byte("data")))
	require.NoError(t, asm.Cleanup(ctx, "s1"))
	require.NoError(t, asm.Cleanup(ctx, "s1"))

	exists, err := blobs.Exists(ctx, "staging/s1/0")
	require.NoError(t, err)
	assert.False(t, exists)
}
