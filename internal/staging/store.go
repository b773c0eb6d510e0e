package staging

import "io"

// stagingStore abstracts the storage mechanics for a staging area.
// Concurrency is managed by the caller (stagingArea.mu), so stores
// do not need to be safe for concurrent use.
type stagingStore interface {
	// StoreContent reads from r, computes SHA-256, and stores content.
	// Deduplicates if checksum already exists; existed reports that case.
	StoreContent(r io.Reader) (checksum string, size int64, existed bool, err error)

	// RemoveContent removes stored content by checksum. Unknown checksums are ignored.
	RemoveContent(checksum string) error

	// OpenContent returns a reader for stored content by checksum.
	OpenContent(checksum string) (io.ReadCloser, error)

	// ContentSize returns the size of one stored item and whether it exists.
	ContentSize(checksum string) (int64, bool, error)

	// TotalSize returns total bytes of all stored content.
	TotalSize() (int64, error)

	// Len returns the number of stored items.
	Len() (int, error)
}
