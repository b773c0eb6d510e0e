package fs

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// LocalFile is a regular file found in a project working directory.
type LocalFile struct {
	Path     string // slash-separated, relative to the scanned root
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Checksum string // hex SHA-256 of the content
}

// Scanner discovers the files of a local project directory.
type Scanner struct {
	ignore []string
}

// NewScanner creates a Scanner that skips paths matching the given patterns
// in addition to the patterns of the directory's own .verhistignore.
func NewScanner(ignore []string) *Scanner {
	return &Scanner{ignore: append([]string(nil), ignore...)}
}

// Scan walks root and returns its regular files sorted by path.
// Symlinks, devices and other non-regular entries are skipped.
func (s *Scanner) Scan(ctx context.Context, root string) ([]LocalFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	local, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string{}, defaultIgnorePatterns...), s.ignore...), local...)
	matcher := NewIgnoreMatcher(patterns)

	var files []LocalFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel, false) {
			return nil
		}
		if strings.Contains(rel, `\`) {
			return fmt.Errorf("unsupported file name %q", rel)
		}

		sum, info, err := ChecksumFile(p)
		if err != nil {
			return err
		}
		files = append(files, LocalFile{
			Path:     rel,
			AbsPath:  p,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Checksum: sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	slices.SortFunc(files, func(a, b LocalFile) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}
