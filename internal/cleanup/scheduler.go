// Package cleanup runs the background reclamation of abandoned upload
// sessions and of artifacts past their retention window.
package cleanup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/internal/artifact"
	"github.com/cipherdrop/cipherdrop/internal/assembler"
	"github.com/cipherdrop/cipherdrop/internal/session"
	"github.com/cipherdrop/cipherdrop/internal/storage"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// errSkip aborts a reclamation claim without treating it as a failure:
// the session is being finalized right now, or already left the state
// the sweep cares about.
var errSkip = errors.New("session skipped")

// Scheduler sweeps the session store and the artifact store on a fixed
// interval, independent of foreground requests.
type Scheduler struct {
	sessions  session.Store
	artifacts artifact.Store
	assembler *assembler.Assembler
	blobs     storage.BlobStorage
	interval  time.Duration
	window    time.Duration
}

// New creates a scheduler. window is how long a session may stay
// unfinalized before it is reclaimed.
func New(sessions session.Store, artifacts artifact.Store, asm *assembler.Assembler, blobs storage.BlobStorage, interval, window time.Duration) *Scheduler {
	return &Scheduler{
		sessions:  sessions,
		artifacts: artifacts,
		assembler: asm,
		blobs:     blobs,
		interval:  interval,
		window:    window,
	}
}

// Run sweeps until the context is cancelled.
func (sc *Scheduler) Run(ctx context.Context) {
	log.Info().
		Dur("interval", sc.interval).
		Dur("upload_window", sc.window).
		Msg("expiration scheduler started")

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiration scheduler stopped")
			return
		case <-ticker.C:
			sc.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation pass. The three passes are independent
// and each identifier's cleanup is idempotent, so a crashed or
// re-attempted sweep is safe.
func (sc *Scheduler) Sweep(ctx context.Context) {
	sc.sweepSessions(ctx)
	sc.sweepArtifacts(ctx)
	sc.sweepOrphanedStaging(ctx)
}

// sweepSessions reclaims sessions whose upload window has elapsed
// without finalization: exclusive transition to Expired, then staged
// chunks and record deletion. A session mid-finalize is skipped; the
// finalize owns it.
func (sc *Scheduler) sweepSessions(ctx context.Context) {
	sessions, err := sc.sessions.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions for reclamation")
		return
	}

	deadline := time.Now().Add(-sc.window)
	reclaimed := 0
	for _, sess := range sessions {
		if sess.Status == types.StatusFinalized || !sess.CreatedAt.Before(deadline) {
			continue
		}

		_, err := sc.sessions.Update(ctx, sess.ID, func(cur *types.UploadSession) error {
			if cur.Finalizing || cur.Status == types.StatusFinalized {
				return errSkip
			}
			if !cur.Status.IsTerminal() {
				cur.Status = types.StatusExpired
			}
			return nil
		})
		if err != nil {
			if !errors.Is(err, errSkip) {
				log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to expire session")
			}
			continue
		}

		if err := sc.assembler.Cleanup(ctx, sess.ID); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to delete staged chunks of expired session")
			// Leave the record so the next sweep retries the chunks.
			continue
		}
		if err := sc.sessions.Delete(ctx, sess.ID); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to delete expired session record")
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		log.Info().Int("count", reclaimed).Msg("expired upload sessions reclaimed")
	}
}

// sweepArtifacts deletes artifacts past their expiry: the stored bytes
// first, then the record, so a crash between the two leaves a record
// the next sweep retries rather than unreachable bytes.
func (sc *Scheduler) sweepArtifacts(ctx context.Context) {
	expired, err := sc.artifacts.ListExpired(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to list expired artifacts")
		return
	}

	deleted := 0
	for _, rec := range expired {
		if err := sc.blobs.Delete(ctx, rec.StoragePath); err != nil {
			log.Error().Err(err).Str("file_id", rec.FileID).Str("path", rec.StoragePath).Msg("failed to delete expired artifact bytes")
			continue
		}
		if err := sc.artifacts.Delete(ctx, rec.FileID); err != nil {
			log.Error().Err(err).Str("file_id", rec.FileID).Msg("failed to delete expired artifact record")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("count", deleted).Msg("expired artifacts deleted")
	}
}

// sweepOrphanedStaging removes staged chunk directories whose session
// record no longer exists, so a record that lapsed out of the store
// between sweeps cannot leak staged bytes. Sessions are listed after
// the staging scan so a session created in between is never treated as
// an orphan.
func (sc *Scheduler) sweepOrphanedStaging(ctx context.Context) {
	paths, err := sc.blobs.List(ctx, assembler.StagingPrefix)
	if err != nil {
		log.Error().Err(err).Msg("failed to list staging area")
		return
	}
	if len(paths) == 0 {
		return
	}

	staged := make(map[string]bool)
	for _, p := range paths {
		rest := strings.TrimPrefix(p, assembler.StagingPrefix+"/")
		if id, _, ok := strings.Cut(rest, "/"); ok {
			staged[id] = true
		}
	}

	sessions, err := sc.sessions.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions for orphan detection")
		return
	}
	known := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		known[sess.ID] = true
	}

	removed := 0
	for id := range staged {
		if known[id] {
			continue
		}
		if err := sc.blobs.DeletePrefix(ctx, assembler.SessionPrefix(id)); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("failed to delete orphaned staging data")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("orphaned staging directories removed")
	}
}
