// Package artifact persists the records of finalized files.
package artifact

import (
	"context"
	"time"

	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// Store holds one immutable record per finalized file, addressable by
// file identifier. Records are created exactly once at finalize time
// and removed only by the expiration sweep.
type Store interface {
	// Create inserts the record; fails with Conflict if the file
	// identifier is already recorded.
	Create(ctx context.Context, rec *types.Artifact) error

	// Get returns the record or a NotFound error.
	Get(ctx context.Context, fileID string) (*types.Artifact, error)

	// Delete removes the record. Deleting a missing record is a no-op.
	Delete(ctx context.Context, fileID string) error

	// ListExpired returns records whose expiry timestamp is before now.
	ListExpired(ctx context.Context, now time.Time) ([]*types.Artifact, error)
}
