package storage

import (
	"context"
	"io"
)

// BlobStorage is the contract the upload engine holds against its
// storage backend: staged chunks and finished artifacts both live
// behind it.
type BlobStorage interface {
	// Store saves content at the given path, replacing any prior content.
	Store(ctx context.Context, path string, content io.Reader) (int64, error)

	// Retrieve opens the content at the given path for reading.
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path. Deleting a missing path
	// is not an error.
	Delete(ctx context.Context, path string) error

	// DeletePrefix removes every object under the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists checks if content exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of content at the given path.
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns paths under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
