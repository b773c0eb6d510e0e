package testutil

import (
	"bytes"
	"testing"

	"verhist/internal/history"
	"verhist/internal/staging"
)

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024
)

// NewTestStagingArea creates a new in-memory staging area for testing.
func NewTestStagingArea() history.StagingArea {
	return staging.NewMemoryStagingArea(DefaultStagingMaxSize)
}

// Stage stages data and fails the test on error.
func Stage(t *testing.T, area history.StagingArea, data []byte) (string, int64) {
	t.Helper()
	checksum, size, err := area.Stage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("staging %d bytes: %v", len(data), err)
	}
	return checksum, size
}
