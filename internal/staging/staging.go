// Package staging holds uploaded content until a push consumes it.
package staging

import (
	"fmt"
	"io"
	"sync"

	"verhist/internal/history"
)

// stagingArea implements history.StagingArea using a pluggable stagingStore
// for the storage mechanics. All shared algorithm logic lives here.
//
// Content is deduplicated by checksum, so every Stage takes a reference and
// every Remove drops one. The content goes once the last reference is dropped.
// References are counted per process; content this process never staged
// is removed on the first Remove.
type stagingArea struct {
	store   stagingStore
	maxSize int64
	mu      sync.Mutex
	refs    map[string]int
}

var _ history.StagingArea = (*stagingArea)(nil)

// Stage stores the content of r and returns its checksum and size.
// Content that would push the area past its max size is rejected.
func (s *stagingArea) Stage(r io.Reader) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checksum, size, existed, err := s.store.StoreContent(r)
	if err != nil {
		return "", 0, fmt.Errorf("storing content: %w", err)
	}
	if existed {
		s.ref(checksum)
		return checksum, size, nil
	}

	total, err := s.store.TotalSize()
	if err != nil {
		_ = s.store.RemoveContent(checksum)
		return "", 0, fmt.Errorf("getting current size: %w", err)
	}
	if total > s.maxSize {
		_ = s.store.RemoveContent(checksum)
		return "", 0, fmt.Errorf("staging area full: would exceed max size of %d bytes", s.maxSize)
	}
	s.ref(checksum)
	return checksum, size, nil
}

func (s *stagingArea) ref(checksum string) {
	if s.refs == nil {
		s.refs = make(map[string]int)
	}
	s.refs[checksum]++
}

// Open returns a reader for staged content.
func (s *stagingArea) Open(checksum string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found, err := s.store.ContentSize(checksum); err != nil {
		return nil, err
	} else if !found {
		return nil, fmt.Errorf("%w: %s", history.ErrNotStaged, checksum)
	}
	return s.store.OpenContent(checksum)
}

// Lookup returns the size of staged content and whether it exists.
func (s *stagingArea) Lookup(checksum string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ContentSize(checksum)
}

// Remove drops one reference to staged content and deletes the content
// when no reference is left.
func (s *stagingArea) Remove(checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.refs[checksum]; n > 1 {
		s.refs[checksum] = n - 1
		return nil
	}
	delete(s.refs, checksum)
	return s.store.RemoveContent(checksum)
}

// Count returns the number of distinct staged items.
func (s *stagingArea) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Size returns the total size of staged content in bytes.
func (s *stagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.TotalSize()
}
