package history

import (
	"context"
	"io"
)

// BlobStore provides durable storage for file content and changesets.
// Keys are slash-separated and derived from (project, version, path).
// Missing keys are reported by wrapping ErrBlobNotFound.
type BlobStore interface {
	// Put stores size bytes read from r under key, replacing any existing blob.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the blob stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Copy duplicates the blob at src to dst.
	Copy(ctx context.Context, src, dst string) error

	// Move renames the blob at src to dst.
	Move(ctx context.Context, src, dst string) error

	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every blob whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// ValidateSetup verifies that the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
