package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

// ErrFileChanged is returned when a file is modified while it is being hashed.
var ErrFileChanged = errors.New("file changed while reading")

// ChecksumFile returns the hex SHA-256 of the file at path together with
// the file info observed before reading. The file is memory-mapped, and
// re-checked afterwards so a concurrent write is reported rather than
// hashed halfway.
func ChecksumFile(path string) (string, os.FileInfo, error) {
	before, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("stat %s: %w", path, err)
	}

	r, err := mmap.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	h := sha256.New()
	_, err = io.Copy(h, io.NewSectionReader(r, 0, int64(r.Len())))
	closeErr := r.Close()
	if err != nil {
		return "", nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	if closeErr != nil {
		return "", nil, fmt.Errorf("unmapping %s: %w", path, closeErr)
	}

	after, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !sameStat(before, after) {
		return "", nil, fmt.Errorf("%s: %w", path, ErrFileChanged)
	}
	return hex.EncodeToString(h.Sum(nil)), before, nil
}

func sameStat(a, b os.FileInfo) bool {
	if a.Size() != b.Size() || !a.ModTime().Equal(b.ModTime()) || a.Mode() != b.Mode() {
		return false
	}
	ca, okA := changeTime(a)
	cb, okB := changeTime(b)
	if !okA || !okB {
		return true
	}
	return ca.Equal(cb)
}
