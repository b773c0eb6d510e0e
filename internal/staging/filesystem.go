package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"verhist/internal/history"
)

// fileSystemStore keeps staged content as files named by checksum.
//
// Directory structure:
//
//	<staging_dir>/
//	  content/
//	    <checksum>    (staged content)
type fileSystemStore struct {
	contentDir string
}

var _ stagingStore = (*fileSystemStore)(nil)

// NewFileSystemStagingArea creates a new filesystem-based staging area.
// Content staged by an earlier process in the same directory is kept.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (history.StagingArea, error) {
	contentDir := filepath.Join(stagingDir, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &stagingArea{
		store:   &fileSystemStore{contentDir: contentDir},
		maxSize: maxSize,
	}, nil
}

func (f *fileSystemStore) path(checksum string) (string, error) {
	if len(checksum) != sha256.Size*2 || strings.ContainsAny(checksum, `/\.`) {
		return "", fmt.Errorf("%w: invalid checksum %q", history.ErrNotStaged, checksum)
	}
	return filepath.Join(f.contentDir, checksum), nil
}

func (f *fileSystemStore) StoreContent(r io.Reader) (string, int64, bool, error) {
	tmp, err := os.CreateTemp(f.contentDir, ".tmp-*")
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return "", 0, false, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, false, fmt.Errorf("failed to close temp file: %w", err)
	}

	checksum := hex.EncodeToString(h.Sum(nil))
	dest := filepath.Join(f.contentDir, checksum)
	if _, err := os.Stat(dest); err == nil {
		return checksum, size, true, nil
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", 0, false, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return checksum, size, false, nil
}

func (f *fileSystemStore) RemoveContent(checksum string) error {
	p, err := f.path(checksum)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staged content: %w", err)
	}
	return nil
}

func (f *fileSystemStore) OpenContent(checksum string) (io.ReadCloser, error) {
	p, err := f.path(checksum)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", history.ErrNotStaged, checksum)
		}
		return nil, fmt.Errorf("opening staged content: %w", err)
	}
	return file, nil
}

func (f *fileSystemStore) ContentSize(checksum string) (int64, bool, error) {
	p, err := f.path(checksum)
	if err != nil {
		return 0, false, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat staged content: %w", err)
	}
	return info.Size(), true, nil
}

func (f *fileSystemStore) entries() ([]os.DirEntry, error) {
	all, err := os.ReadDir(f.contentDir)
	if err != nil {
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}
	out := all[:0]
	for _, e := range all {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fileSystemStore) TotalSize() (int64, error) {
	entries, err := f.entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, fmt.Errorf("stat staged content: %w", err)
		}
		total += info.Size()
	}
	return total, nil
}

func (f *fileSystemStore) Len() (int, error) {
	entries, err := f.entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
