// Package assembler stages individual chunk payloads and merges a
// complete set into one ordered artifact. Assembly order is always by
// numeric index, never by arrival order.
package assembler

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/internal/storage"
	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/utils"
)

// StagingPrefix is where in-flight chunk payloads live in blob storage.
const StagingPrefix = "staging"

// ArtifactPrefix is where finalized artifacts live in blob storage.
const ArtifactPrefix = "files"

// Assembler persists chunk payloads to the staging area and merges them.
type Assembler struct {
	storage      storage.BlobStorage
	maxChunkSize int64
}

// New creates an assembler with the given per-chunk size ceiling.
func New(blobs storage.BlobStorage, maxChunkSize int64) *Assembler {
	return &Assembler{storage: blobs, maxChunkSize: maxChunkSize}
}

// SessionPrefix returns the staging prefix of one session's chunks.
func SessionPrefix(sessionID string) string {
	return fmt.Sprintf("%s/%s", StagingPrefix, sessionID)
}

func chunkPath(sessionID string, index int) string {
	return fmt.Sprintf("%s/%s/%d", StagingPrefix, sessionID, index)
}

// ArtifactPath returns the storage location of a finalized artifact.
func ArtifactPath(fileID string) string {
	return fmt.Sprintf("%s/%s", ArtifactPrefix, fileID)
}

// Store writes or overwrites the staged payload for (sessionID, index).
// Re-storing the same index replaces the prior payload, so upload
// retries are idempotent rather than additive.
func (a *Assembler) Store(ctx context.Context, sessionID string, index int, payload []byte) error {
	if int64(len(payload)) > a.maxChunkSize {
		return apperr.New(apperr.KindValidation,
			"chunk of %s exceeds the per-chunk limit of %s",
			utils.FormatBytes(int64(len(payload))), utils.FormatBytes(a.maxChunkSize))
	}

	if _, err := a.storage.Store(ctx, chunkPath(sessionID, index), bytes.NewReader(payload)); err != nil {
		return apperr.Wrap(apperr.KindResource, err, "failed to stage chunk %d of session %s", index, sessionID)
	}
	return nil
}

// Merge reads staged payloads for indices 0..totalChunks-1 in ascending
// order and concatenates them into the artifact at destPath, returning
// the number of bytes written. Whatever the outcome, every staged
// payload for the session is deleted before Merge returns.
func (a *Assembler) Merge(ctx context.Context, sessionID string, totalChunks int, expectedSize int64, destPath string) (written int64, err error) {
	defer func() {
		if cleanupErr := a.Cleanup(ctx, sessionID); cleanupErr != nil {
			log.Error().Err(cleanupErr).Str("session_id", sessionID).Msg("failed to clean staging area after merge")
			if err == nil {
				err = apperr.Wrap(apperr.KindResource, cleanupErr, "failed to clean staging area for session %s", sessionID)
			}
		}
	}()

	// Verify presence and total size before touching the destination so
	// an incomplete or miscounted set never produces a partial artifact.
	var stagedSize int64
	for i := 0; i < totalChunks; i++ {
		size, sizeErr := a.storage.GetSize(ctx, chunkPath(sessionID, i))
		if sizeErr != nil {
			exists, existsErr := a.storage.Exists(ctx, chunkPath(sessionID, i))
			if existsErr == nil && !exists {
				return 0, apperr.New(apperr.KindIntegrity, "chunk %d of session %s is missing from staging", i, sessionID)
			}
			return 0, apperr.Wrap(apperr.KindResource, sizeErr, "failed to stat chunk %d of session %s", i, sessionID)
		}
		stagedSize += size
	}
	if stagedSize != expectedSize {
		return 0, apperr.New(apperr.KindIntegrity,
			"session %s staged %d bytes but %d were expected", sessionID, stagedSize, expectedSize)
	}

	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < totalChunks; i++ {
			reader, openErr := a.storage.Retrieve(ctx, chunkPath(sessionID, i))
			if openErr != nil {
				pw.CloseWithError(fmt.Errorf("failed to open chunk %d: %w", i, openErr))
				return
			}
			_, copyErr := io.Copy(pw, reader)
			reader.Close()
			if copyErr != nil {
				pw.CloseWithError(fmt.Errorf("failed to read chunk %d: %w", i, copyErr))
				return
			}
		}
		pw.Close()
	}()

	written, storeErr := a.storage.Store(ctx, destPath, pr)
	if storeErr != nil {
		pr.CloseWithError(storeErr)
		return 0, apperr.Wrap(apperr.KindResource, storeErr, "failed to write artifact for session %s", sessionID)
	}

	if written != expectedSize {
		// A chunk changed between the size pass and the copy. Remove the
		// corrupt artifact rather than leave it retrievable.
		if delErr := a.storage.Delete(ctx, destPath); delErr != nil {
			log.Error().Err(delErr).Str("path", destPath).Msg("failed to remove mismatched artifact")
		}
		return 0, apperr.New(apperr.KindIntegrity,
			"artifact for session %s is %d bytes but %d were expected", sessionID, written, expectedSize)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("path", destPath).
		Int("chunks", totalChunks).
		Int64("size", written).
		Msg("chunks merged into artifact")

	return written, nil
}

// Cleanup removes every staged payload for the session. Safe to call
// repeatedly and on sessions with no staged chunks.
func (a *Assembler) Cleanup(ctx context.Context, sessionID string) error {
	return a.storage.DeletePrefix(ctx, SessionPrefix(sessionID))
}
