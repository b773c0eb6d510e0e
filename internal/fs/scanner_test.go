package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("creating dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"project.qgs":         "<qgis/>",
		"data/roads.gpkg":     "roads",
		"data/roads.gpkg-wal": "wal",
		"data/keep.tmp":       "keep",
		".git/HEAD":           "ref: main",
		"notes/readme.txt":    "hello",
		"empty.txt":           "",
		IgnoreFileName:        "notes/\n!keep.tmp\n",
	})

	s := NewScanner([]string{".git/", "*.tmp", "*.gpkg-wal"})
	files, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []string{"data/keep.tmp", "data/roads.gpkg", "empty.txt", "project.qgs"}
	if len(files) != len(want) {
		t.Fatalf("Scan() returned %d files %v, want %v", len(files), files, want)
	}
	for i, f := range files {
		if f.Path != want[i] {
			t.Errorf("files[%d].Path = %q, want %q", i, f.Path, want[i])
		}
	}

	roads := files[1]
	if roads.Size != 5 {
		t.Errorf("roads size = %d, want 5", roads.Size)
	}
	if roads.Checksum != sha("roads") {
		t.Errorf("roads checksum = %s, want %s", roads.Checksum, sha("roads"))
	}
	if roads.AbsPath != filepath.Join(root, "data", "roads.gpkg") {
		t.Errorf("roads AbsPath = %s", roads.AbsPath)
	}
	if files[2].Checksum != sha("") {
		t.Errorf("empty checksum = %s, want %s", files[2].Checksum, sha(""))
	}
}

func TestScanner_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	files, err := NewScanner(nil).Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(files) != 1 || files[0].Path != "a.txt" {
		t.Errorf("Scan() = %v, want only a.txt", files)
	}
}

func TestScanner_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScanner(nil).Scan(ctx, root); err == nil {
		t.Fatal("Scan() with cancelled context expected error")
	}
}

func TestScanner_MissingRoot(t *testing.T) {
	if _, err := NewScanner(nil).Scan(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("Scan() of missing directory expected error")
	}
}

func TestChecksumFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "layer.gpkg")
	if err := os.WriteFile(p, []byte("geometry"), 0644); err != nil {
		t.Fatal(err)
	}

	sum, info, err := ChecksumFile(p)
	if err != nil {
		t.Fatalf("ChecksumFile() error = %v", err)
	}
	if sum != sha("geometry") {
		t.Errorf("checksum = %s, want %s", sum, sha("geometry"))
	}
	if info.Size() != 8 {
		t.Errorf("size = %d, want 8", info.Size())
	}

	if _, _, err := ChecksumFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("ChecksumFile() of missing file expected error")
	}
}
