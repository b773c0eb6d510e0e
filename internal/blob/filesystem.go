package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"verhist/internal/history"
)

// FileSystemStore is a BlobStore that keeps each blob as a file under root.
// Keys map directly to relative paths:
//
//	<root>/
//	  <projectID>/
//	    v1/<attempt>/data.gpkg
//	    v2/<attempt>/data.gpkg
//	    v2/<attempt>-diff/data.gpkg
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at the given directory.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// resolve maps a key to a filesystem path and rejects keys that would
// escape the root.
func (s *FileSystemStore) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) || path.Clean(key) != key {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid blob key %q", key)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	dest, err := s.resolve(key)
	if err != nil {
		return err
	}
	return writeFile(dest, r, size)
}

func (s *FileSystemStore) Get(ctx context.Context, key string, w io.Writer) error {
	src, err := s.resolve(key)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", history.ErrBlobNotFound, key)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Copy(ctx context.Context, src, dst string) error {
	srcPath, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := s.resolve(dst)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", history.ErrBlobNotFound, src)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat blob: %w", err)
	}
	return writeFile(dstPath, f, info.Size())
}

func (s *FileSystemStore) Move(ctx context.Context, src, dst string) error {
	srcPath, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", history.ErrBlobNotFound, src)
		}
		return fmt.Errorf("failed to move blob: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// DeletePrefix removes every blob whose key starts with prefix.
func (s *FileSystemStore) DeletePrefix(ctx context.Context, prefix string) error {
	if dir, ok := strings.CutSuffix(prefix, "/"); ok {
		p, err := s.resolve(dir)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", prefix, err)
		}
		return nil
	}

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if strings.HasPrefix(filepath.ToSlash(rel), prefix) {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	return nil
}

func (s *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

// ValidateSetup verifies that the root is a writable directory.
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", s.root)
	}
	f, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeFile writes r to dest using a temp file and rename.
func writeFile(dest string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ history.BlobStore = (*FileSystemStore)(nil)
