package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"verhist/internal/config"
	"verhist/internal/history"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type areaFactory func(t *testing.T, maxSize int64) history.StagingArea

func factories() map[string]areaFactory {
	return map[string]areaFactory{
		"memory": func(t *testing.T, maxSize int64) history.StagingArea {
			return NewMemoryStagingArea(maxSize)
		},
		"filesystem": func(t *testing.T, maxSize int64) history.StagingArea {
			sa, err := NewFileSystemStagingArea(t.TempDir(), maxSize)
			if err != nil {
				t.Fatalf("NewFileSystemStagingArea() error = %v", err)
			}
			return sa
		},
	}
}

func TestStagingArea_StageAndOpen(t *testing.T) {
	for name, newArea := range factories() {
		t.Run(name, func(t *testing.T) {
			sa := newArea(t, 1024)

			checksum, size, err := sa.Stage(strings.NewReader("layer contents"))
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			if checksum != sha("layer contents") {
				t.Errorf("checksum = %s, want %s", checksum, sha("layer contents"))
			}
			if size != int64(len("layer contents")) {
				t.Errorf("size = %d, want %d", size, len("layer contents"))
			}

			rc, err := sa.Open(checksum)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != "layer contents" {
				t.Errorf("content = %q, want %q", got, "layer contents")
			}
		})
	}
}

func TestStagingArea_Deduplicates(t *testing.T) {
	for name, newArea := range factories() {
		t.Run(name, func(t *testing.T) {
			sa := newArea(t, 1024)
			for i := 0; i < 3; i++ {
				if _, _, err := sa.Stage(strings.NewReader("same")); err != nil {
					t.Fatalf("Stage() iteration %d error = %v", i+1, err)
				}
			}
			count, err := sa.Count()
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if count != 1 {
				t.Errorf("Count() = %d, want 1", count)
			}
			size, err := sa.Size()
			if err != nil {
				t.Fatalf("Size() error = %v", err)
			}
			if size != 4 {
				t.Errorf("Size() = %d, want 4", size)
			}
		})
	}
}

func TestStagingArea_RemoveKeepsSharedContent(t *testing.T) {
	for name, newArea := range factories() {
		t.Run(name, func(t *testing.T) {
			sa := newArea(t, 1024)
			first, _, err := sa.Stage(strings.NewReader("shared layer"))
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			second, _, err := sa.Stage(strings.NewReader("shared layer"))
			if err != nil {
				t.Fatalf("second Stage() error = %v", err)
			}
			if first != second {
				t.Fatalf("checksums differ: %s, %s", first, second)
			}

			if err := sa.Remove(first); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if _, found, err := sa.Lookup(first); err != nil || !found {
				t.Fatalf("Lookup() after one Remove = %v, %v; want true, nil", found, err)
			}
			rc, err := sa.Open(first)
			if err != nil {
				t.Fatalf("Open() after one Remove error = %v", err)
			}
			rc.Close()

			if err := sa.Remove(second); err != nil {
				t.Fatalf("second Remove() error = %v", err)
			}
			if _, found, err := sa.Lookup(first); err != nil || found {
				t.Errorf("Lookup() after last Remove = %v, %v; want false, nil", found, err)
			}
		})
	}
}

func TestStagingArea_LookupAndRemove(t *testing.T) {
	for name, newArea := range factories() {
		t.Run(name, func(t *testing.T) {
			sa := newArea(t, 1024)
			checksum, _, err := sa.Stage(strings.NewReader("abc"))
			if err != nil {
				t.Fatalf("Stage() error = %v", err)
			}

			size, found, err := sa.Lookup(checksum)
			if err != nil || !found || size != 3 {
				t.Errorf("Lookup() = %d, %v, %v; want 3, true, nil", size, found, err)
			}

			if err := sa.Remove(checksum); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if err := sa.Remove(checksum); err != nil {
				t.Fatalf("second Remove() error = %v", err)
			}

			_, found, err = sa.Lookup(checksum)
			if err != nil || found {
				t.Errorf("Lookup() after Remove = %v, %v; want false, nil", found, err)
			}

			_, err = sa.Open(checksum)
			if !errors.Is(err, history.ErrNotStaged) {
				t.Errorf("Open() error = %v, want ErrNotStaged", err)
			}
		})
	}
}

func TestStagingArea_MaxSize(t *testing.T) {
	for name, newArea := range factories() {
		t.Run(name, func(t *testing.T) {
			sa := newArea(t, 10)
			if _, _, err := sa.Stage(strings.NewReader("12345678")); err != nil {
				t.Fatalf("Stage() error = %v", err)
			}
			if _, _, err := sa.Stage(strings.NewReader("abcdef")); err == nil {
				t.Fatal("Stage() expected error when exceeding max size")
			}

			count, _ := sa.Count()
			if count != 1 {
				t.Errorf("Count() = %d, want 1 (rejected content must not remain)", count)
			}

			// re-staging existing content never counts against the limit
			if _, _, err := sa.Stage(strings.NewReader("12345678")); err != nil {
				t.Errorf("re-Stage() error = %v", err)
			}
		})
	}
}

func TestFileSystemStagingArea_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	sa, err := NewFileSystemStagingArea(dir, 1024)
	if err != nil {
		t.Fatalf("NewFileSystemStagingArea() error = %v", err)
	}
	checksum, _, err := sa.Stage(strings.NewReader("persisted"))
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	reopened, err := NewFileSystemStagingArea(dir, 1024)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if _, found, _ := reopened.Lookup(checksum); !found {
		t.Error("staged content lost after reopen")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "content"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("content dir has %d entries, want 1", len(entries))
	}
}

func TestNewStagingAreaFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StagingConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StagingConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.StagingConfig{Type: "filesystem", StagingDir: t.TempDir(), MaxSize: 100}},
		{name: "filesystem without dir", cfg: config.StagingConfig{Type: "filesystem"}, wantErr: true},
		{name: "unknown", cfg: config.StagingConfig{Type: "punchcard"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sa, err := NewStagingAreaFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStagingAreaFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && sa == nil {
				t.Error("NewStagingAreaFromConfig() returned nil")
			}
		})
	}
}
