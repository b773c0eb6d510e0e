package history

import "io"

// StagingArea holds uploaded content until a push consumes it.
// Content is addressed by its SHA-256 checksum, so identical uploads
// are stored once. Each Stage takes a reference that a Remove gives back.
// Unknown checksums are reported by wrapping ErrNotStaged.
type StagingArea interface {
	// Stage reads r to the end, stores it and returns its checksum and size.
	Stage(r io.Reader) (checksum string, size int64, err error)

	// Open returns a reader for staged content.
	Open(checksum string) (io.ReadCloser, error)

	// Lookup returns the size of staged content and whether it exists.
	Lookup(checksum string) (size int64, found bool, err error)

	// Remove drops one reference and deletes the content once none is left.
	// Removing unknown content is not an error.
	Remove(checksum string) error

	// Count returns the number of distinct staged items.
	Count() (int, error)

	// Size returns the total size of staged content in bytes.
	Size() (int64, error)
}
