// Package upload implements the chunked-upload session engine: the
// state machine that turns out-of-order, possibly retried chunk writes
// into a verified, complete artifact.
package upload

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/internal/artifact"
	"github.com/cipherdrop/cipherdrop/internal/assembler"
	"github.com/cipherdrop/cipherdrop/internal/session"
	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/config"
	"github.com/cipherdrop/cipherdrop/pkg/token"
	"github.com/cipherdrop/cipherdrop/pkg/types"
	"github.com/cipherdrop/cipherdrop/pkg/utils"
)

const (
	minRetentionDays = 1
	maxRetentionDays = 30
)

// errAlreadyFinalized is the internal signal that a finalize retry hit
// a session that already produced its artifact.
var errAlreadyFinalized = errors.New("session already finalized")

// Service orchestrates upload sessions over the session store, the
// chunk assembler and the artifact record store.
type Service struct {
	sessions  session.Store
	artifacts artifact.Store
	assembler *assembler.Assembler
	cfg       *config.UploadConfig
}

// NewService creates the upload session engine.
func NewService(sessions session.Store, artifacts artifact.Store, asm *assembler.Assembler, cfg *config.UploadConfig) *Service {
	return &Service{
		sessions:  sessions,
		artifacts: artifacts,
		assembler: asm,
		cfg:       cfg,
	}
}

// sessionTTL leaves the record in the store well past the upload window
// so the sweep can reclaim staged chunks before the record vanishes.
func (s *Service) sessionTTL() time.Duration {
	return 2 * s.cfg.UploadWindow
}

// InitializeUpload validates the declared upload, generates the file
// and session identifiers and creates the session in Initialized state.
func (s *Service) InitializeUpload(ctx context.Context, req *types.InitUploadRequest) (*types.InitUploadResponse, error) {
	if req.TotalChunks <= 0 {
		return nil, apperr.New(apperr.KindValidation, "total_chunks must be positive, got %d", req.TotalChunks)
	}
	if req.TotalSize <= 0 {
		return nil, apperr.New(apperr.KindValidation, "total_size must be positive, got %d", req.TotalSize)
	}
	if req.TotalSize > s.cfg.MaxFileSize {
		return nil, apperr.New(apperr.KindValidation,
			"total size of %s exceeds the maximum of %s",
			utils.FormatBytes(req.TotalSize), utils.FormatBytes(s.cfg.MaxFileSize))
	}
	if req.RetentionDays < minRetentionDays || req.RetentionDays > maxRetentionDays {
		return nil, apperr.New(apperr.KindValidation,
			"retention_days must be between %d and %d, got %d", minRetentionDays, maxRetentionDays, req.RetentionDays)
	}

	fileID, err := token.Generate()
	if err != nil {
		return nil, err
	}
	sessionID, err := token.Generate()
	if err != nil {
		return nil, err
	}

	sess := &types.UploadSession{
		ID:            sessionID,
		FileID:        fileID,
		TotalChunks:   req.TotalChunks,
		TotalSize:     req.TotalSize,
		IV:            req.IV,
		Salt:          req.Salt,
		IsArchive:     req.IsArchive,
		RetentionDays: req.RetentionDays,
		Received:      make(map[int]bool),
		CreatedAt:     time.Now(),
		Status:        types.StatusInitialized,
	}

	if err := s.sessions.Create(ctx, sess, s.sessionTTL()); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID).
		Int("total_chunks", req.TotalChunks).
		Int64("total_size", req.TotalSize).
		Int("retention_days", req.RetentionDays).
		Bool("is_archive", req.IsArchive).
		Msg("upload session initialized")

	return &types.InitUploadResponse{SessionID: sessionID, FileID: fileID}, nil
}

// UploadChunk stages one chunk payload and records its arrival. Safe to
// call concurrently for different chunks of the same session, and safe
// to retry for the same index: the staged bytes are replaced and the
// received count never double-counts.
func (s *Service) UploadChunk(ctx context.Context, sessionID string, index int, payload []byte) (*types.ChunkUploadResponse, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.KindValidation, "chunk payload must not be empty")
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, apperr.New(apperr.KindNotFound, "session %s is already closed", sessionID)
	}
	if sess.Finalizing {
		return nil, apperr.New(apperr.KindState, "finalize already in progress for session %s", sessionID)
	}
	if index < 0 || index >= sess.TotalChunks {
		return nil, apperr.New(apperr.KindValidation,
			"chunk index %d out of range [0, %d)", index, sess.TotalChunks)
	}

	// Stage the bytes before touching session state so a failed store
	// leaves the session exactly as it was; the retry re-stages.
	if err := s.assembler.Store(ctx, sessionID, index, payload); err != nil {
		return nil, err
	}

	updated, err := s.sessions.Update(ctx, sessionID, func(cur *types.UploadSession) error {
		if cur.Status.IsTerminal() {
			return apperr.New(apperr.KindNotFound, "session %s is already closed", sessionID)
		}
		if cur.Finalizing {
			return apperr.New(apperr.KindState, "finalize already in progress for session %s", sessionID)
		}
		cur.Received[index] = true
		switch {
		case cur.ReceivedCount() >= cur.TotalChunks:
			cur.Status = types.StatusComplete
		case cur.Status == types.StatusInitialized:
			cur.Status = types.StatusInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("index", index).
		Int("received", updated.ReceivedCount()).
		Int("total_chunks", updated.TotalChunks).
		Msg("chunk stored")

	return &types.ChunkUploadResponse{
		Received:    updated.ReceivedCount(),
		TotalChunks: updated.TotalChunks,
		Complete:    updated.Status == types.StatusComplete,
	}, nil
}

// FinalizeUpload merges a complete session's chunks into the artifact,
// records it, and closes the session. A retried finalize against an
// already-finalized session returns the original result without writing
// the artifact a second time.
func (s *Service) FinalizeUpload(ctx context.Context, sessionID, fileID string, retentionDays int) (*types.FinalizeResponse, error) {
	if retentionDays < minRetentionDays || retentionDays > maxRetentionDays {
		return nil, apperr.New(apperr.KindValidation,
			"retention_days must be between %d and %d, got %d", minRetentionDays, maxRetentionDays, retentionDays)
	}

	// Claim the session. Exactly one caller wins the transition out of
	// Complete; the expiration sweep and concurrent finalizes lose.
	claimed, err := s.sessions.Update(ctx, sessionID, func(cur *types.UploadSession) error {
		if cur.FileID != fileID {
			return apperr.New(apperr.KindState, "file identifier does not match session %s", sessionID)
		}
		switch cur.Status {
		case types.StatusFinalized:
			return errAlreadyFinalized
		case types.StatusExpired, types.StatusFailed:
			return apperr.New(apperr.KindNotFound, "session %s is already closed", sessionID)
		case types.StatusComplete:
			if cur.Finalizing {
				return apperr.New(apperr.KindState, "finalize already in progress for session %s", sessionID)
			}
			cur.Finalizing = true
			return nil
		default:
			return apperr.New(apperr.KindState,
				"session %s is incomplete: %d of %d chunks received",
				sessionID, cur.ReceivedCount(), cur.TotalChunks)
		}
	})
	if err != nil {
		if errors.Is(err, errAlreadyFinalized) {
			return s.finalizedResult(ctx, sessionID, fileID)
		}
		return nil, err
	}

	destPath := assembler.ArtifactPath(fileID)
	written, err := s.assembler.Merge(ctx, sessionID, claimed.TotalChunks, claimed.TotalSize, destPath)
	if err != nil {
		s.failSession(ctx, sessionID, err)
		return nil, err
	}

	now := time.Now()
	rec := &types.Artifact{
		FileID:      fileID,
		StoragePath: destPath,
		Size:        written,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(retentionDays) * 24 * time.Hour),
	}
	if err := s.artifacts.Create(ctx, rec); err != nil {
		s.failSession(ctx, sessionID, err)
		return nil, err
	}

	if _, err := s.sessions.Update(ctx, sessionID, func(cur *types.UploadSession) error {
		cur.Status = types.StatusFinalized
		cur.Finalizing = false
		cur.StoragePath = destPath
		return nil
	}); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark session finalized")
	}

	// Keep the closed record around briefly so a retried finalize can
	// observe the result, then let the store's TTL destroy it.
	if err := s.sessions.Expire(ctx, sessionID, s.cfg.CompletedRetention); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to shorten finalized session retention")
	}

	log.Info().
		Str("session_id", sessionID).
		Str("storage_path", destPath).
		Int64("size", written).
		Time("expires_at", rec.ExpiresAt).
		Msg("upload finalized")

	return &types.FinalizeResponse{
		FileID:      fileID,
		StoragePath: destPath,
		Size:        written,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// finalizedResult reconstructs the original finalize response for a
// retried call.
func (s *Service) finalizedResult(ctx context.Context, sessionID, fileID string) (*types.FinalizeResponse, error) {
	rec, err := s.artifacts.Get(ctx, fileID)
	if err == nil {
		return &types.FinalizeResponse{
			FileID:      rec.FileID,
			StoragePath: rec.StoragePath,
			Size:        rec.Size,
			ExpiresAt:   rec.ExpiresAt,
		}, nil
	}

	log.Error().Err(err).
		Str("session_id", sessionID).
		Msg("finalized session has no artifact record")
	return nil, apperr.Wrap(apperr.KindResource, err, "artifact record for session %s unavailable", sessionID)
}

// failSession marks the session Failed after an unrecoverable merge or
// record error. The assembler has already reclaimed the staged chunks.
func (s *Service) failSession(ctx context.Context, sessionID string, cause error) {
	log.Error().Err(cause).Str("session_id", sessionID).Msg("finalize failed")

	if _, err := s.sessions.Update(ctx, sessionID, func(cur *types.UploadSession) error {
		cur.Status = types.StatusFailed
		cur.Finalizing = false
		return nil
	}); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark session failed")
	}
	if err := s.sessions.Expire(ctx, sessionID, s.cfg.CompletedRetention); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to shorten failed session retention")
	}
}
