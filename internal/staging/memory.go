package staging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"verhist/internal/history"
)

// memoryStore keeps staged content in a map.
type memoryStore struct {
	content map[string][]byte
}

var _ stagingStore = (*memoryStore)(nil)

// NewMemoryStagingArea creates a new in-memory staging area.
// maxSize is the maximum total size in bytes; must be positive.
func NewMemoryStagingArea(maxSize int64) history.StagingArea {
	return &stagingArea{
		store:   &memoryStore{content: make(map[string][]byte)},
		maxSize: maxSize,
	}
}

func (m *memoryStore) StoreContent(r io.Reader) (string, int64, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, false, fmt.Errorf("reading content: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if _, ok := m.content[checksum]; ok {
		return checksum, int64(len(data)), true, nil
	}
	m.content[checksum] = data
	return checksum, int64(len(data)), false, nil
}

func (m *memoryStore) RemoveContent(checksum string) error {
	delete(m.content, checksum)
	return nil
}

func (m *memoryStore) OpenContent(checksum string) (io.ReadCloser, error) {
	data, ok := m.content[checksum]
	if !ok {
		return nil, fmt.Errorf("%w: %s", history.ErrNotStaged, checksum)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) ContentSize(checksum string) (int64, bool, error) {
	data, ok := m.content[checksum]
	return int64(len(data)), ok, nil
}

func (m *memoryStore) TotalSize() (int64, error) {
	var total int64
	for _, data := range m.content {
		total += int64(len(data))
	}
	return total, nil
}

func (m *memoryStore) Len() (int, error) {
	return len(m.content), nil
}
