// Package session provides the time-bounded key-value store that holds
// upload sessions while chunks are in flight. Updates to a single
// session are atomic; updates to different sessions never contend.
package session

import (
	"context"
	"time"

	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// Mutation is applied to a session under the store's per-key exclusion.
// Returning an error aborts the update and leaves the stored session
// untouched; a StateError from the mutation is how transition guards
// reject invalid state changes.
type Mutation func(*types.UploadSession) error

// Store is the session store contract. Implementations must apply
// Update atomically per key: two concurrent chunk-arrival updates for
// the same session must both land (the received set is merged through
// serialized mutations, never overwritten wholesale).
type Store interface {
	// Create inserts a new session with an absolute expiry of now+ttl.
	// Fails with a Conflict error if the identifier already exists.
	Create(ctx context.Context, sess *types.UploadSession, ttl time.Duration) error

	// Get returns a copy of the session, or a NotFound error.
	Get(ctx context.Context, id string) (*types.UploadSession, error)

	// Update applies the mutation atomically with respect to concurrent
	// updates on the same identifier and returns the updated session.
	Update(ctx context.Context, id string, fn Mutation) (*types.UploadSession, error)

	// Delete removes the session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, id string) error

	// Expire resets the session's remaining time-to-live.
	Expire(ctx context.Context, id string, ttl time.Duration) error

	// List returns copies of all live sessions, for the reclamation sweep.
	List(ctx context.Context) ([]*types.UploadSession, error)
}
