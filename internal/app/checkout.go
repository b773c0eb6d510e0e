package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"verhist/internal/history"
)

// Checkout writes every file of a version into dest and returns the written
// paths. It refuses to overwrite existing files. Version 0 means the latest.
func (a *App) Checkout(ctx context.Context, ref string, version history.VersionID, dest string) ([]string, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	v, err := latestIfZero(p, version)
	if err != nil {
		return nil, err
	}
	files, err := a.engine.GetSnapshot(ctx, p.ID, v)
	if err != nil {
		return nil, err
	}

	targets := make([]string, len(files))
	for i, f := range files {
		target, err := checkoutPath(dest, f.Path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Lstat(target); err == nil {
			return nil, fmt.Errorf("output file already exists: %s", target)
		}
		targets[i] = target
	}

	var written []string
	for i, f := range files {
		data, err := a.engine.GetFileAt(ctx, p.ID, v, f.Path)
		if err != nil {
			return written, fmt.Errorf("reading %s: %w", f.Path, err)
		}
		if err := writeNew(targets[i], data); err != nil {
			return written, err
		}
		written = append(written, f.Path)
	}
	a.logger.Info("checked out version", "project", p.ID, "version", v.String(), "files", len(written), "dest", dest)
	return written, nil
}

func checkoutPath(dest, rel string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(rel))
	r, err := filepath.Rel(dest, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, dest)
	}
	return target, nil
}

// writeNew writes data to a temp file next to target and renames it into place.
func writeNew(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".verhist-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
