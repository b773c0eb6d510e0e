package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"verhist/internal/fs"
	"verhist/internal/history"
)

// PushOptions control how a directory is turned into a change set.
type PushOptions struct {
	Author string
	Device string

	// ForceReplace uploads modified versioned files whole instead of as changesets.
	ForceReplace bool

	// FallbackToReplace also stages the full content of patched files so a
	// changeset the engine cannot apply degrades to a replacement.
	FallbackToReplace bool
}

// DirectoryStatus compares a local directory with a project's latest snapshot.
type DirectoryStatus struct {
	Project   *history.Project
	Added     []fs.LocalFile
	Modified  []fs.LocalFile
	Removed   []history.FileEntry
	Unchanged int
}

// Clean reports whether the directory matches the snapshot.
func (s *DirectoryStatus) Clean() bool {
	return len(s.Added) == 0 && len(s.Modified) == 0 && len(s.Removed) == 0
}

// PushResult describes a finished push.
type PushResult struct {
	Status  *DirectoryStatus
	Version *history.ProjectVersion // nil when there was nothing to push
	Patched int                     // updates sent as changesets
}

// Status compares dir with the latest snapshot of a project.
func (a *App) Status(ctx context.Context, ref, dir string) (*DirectoryStatus, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return a.compare(ctx, p, dir)
}

func (a *App) compare(ctx context.Context, p *history.Project, dir string) (*DirectoryStatus, error) {
	local, err := a.scanner.Scan(ctx, dir)
	if err != nil {
		return nil, err
	}

	current := make(map[string]history.FileEntry, len(p.Files))
	for _, f := range p.Files {
		current[f.Path] = f
	}

	st := &DirectoryStatus{Project: p}
	seen := make(map[string]bool, len(local))
	for _, f := range local {
		seen[f.Path] = true
		cur, ok := current[f.Path]
		switch {
		case !ok:
			st.Added = append(st.Added, f)
		case cur.Checksum != f.Checksum:
			st.Modified = append(st.Modified, f)
		default:
			st.Unchanged++
		}
	}
	for _, f := range p.Files {
		if !seen[f.Path] {
			st.Removed = append(st.Removed, f)
		}
	}
	sort.Slice(st.Removed, func(i, j int) bool { return st.Removed[i].Path < st.Removed[j].Path })
	return st, nil
}

// PushDirectory makes dir the next version of a project. New and replaced
// files are staged whole; modified versioned files are sent as changesets
// against the latest version unless opts.ForceReplace is set.
func (a *App) PushDirectory(ctx context.Context, ref, dir string, opts PushOptions) (*PushResult, error) {
	if err := a.persistOperation(ctx, ref+" "+dir); err != nil {
		return nil, err
	}
	res, err := a.pushDirectory(ctx, ref, dir, opts)
	return res, a.op.Record(err)
}

func (a *App) pushDirectory(ctx context.Context, ref, dir string, opts PushOptions) (*PushResult, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	st, err := a.compare(ctx, p, dir)
	if err != nil {
		return nil, err
	}
	res := &PushResult{Status: st}
	if st.Clean() {
		a.logger.Info("nothing to push", "project", p.ID, "dir", dir)
		return res, nil
	}

	u := &uploads{area: a.staging}
	var consumed []string
	defer func() { u.release(consumed) }()

	var cs history.ChangeSet
	for _, f := range st.Added {
		if err := u.stageFile(f); err != nil {
			return nil, err
		}
		cs.Added = append(cs.Added, history.FileUpload{Path: f.Path, Checksum: f.Checksum, Size: f.Size})
		a.logger.Debug("staged new file", "path", f.Path, "size", f.Size)
	}

	types := a.engine.FileTypes()
	for _, f := range st.Modified {
		var upd history.FileUpdate
		if types.IsVersioned(f.Path) && !opts.ForceReplace {
			upd, err = a.patchUpdate(ctx, p, f, u, opts.FallbackToReplace)
		} else {
			upd, err = a.replaceUpdate(f, u)
		}
		if err != nil {
			return nil, err
		}
		if upd.Kind == history.UpdatePatch {
			res.Patched++
		}
		cs.Updated = append(cs.Updated, upd)
	}

	for _, f := range st.Removed {
		cs.Removed = append(cs.Removed, history.FileRef{Path: f.Path, Checksum: f.Checksum})
	}

	pv, err := a.engine.Push(ctx, p.ID, history.PushRequest{
		Author:            opts.Author,
		Device:            opts.Device,
		Changes:           cs,
		FallbackToReplace: opts.FallbackToReplace,
	})
	if err != nil {
		a.logger.Error("push failed", "project", p.ID, "dir", dir, "error", err)
		return nil, fmt.Errorf("pushing %s: %w", dir, err)
	}

	a.logger.Info("version committed",
		"project", p.ID,
		"version", pv.Version.String(),
		"added", len(cs.Added),
		"updated", len(cs.Updated),
		"patched", res.Patched,
		"removed", len(cs.Removed),
		"size", pv.Size,
	)
	consumed = history.ConsumedUploads(cs, pv.Files)
	res.Version = pv
	return res, nil
}

// patchUpdate diffs the local file against its content at the latest
// version. If no changeset can be computed the file is replaced instead.
func (a *App) patchUpdate(ctx context.Context, p *history.Project, f fs.LocalFile, u *uploads, withFull bool) (history.FileUpdate, error) {
	base, err := a.engine.GetFileAt(ctx, p.ID, p.LatestVersion, f.Path)
	if err != nil {
		return history.FileUpdate{}, err
	}
	modified, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return history.FileUpdate{}, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	if int64(len(modified)) != f.Size {
		return history.FileUpdate{}, fmt.Errorf("%s: %w", f.Path, fs.ErrFileChanged)
	}

	changeset, err := a.engine.CreateChangeset(ctx, base, modified)
	if err != nil {
		if ctx.Err() != nil {
			return history.FileUpdate{}, err
		}
		a.logger.Warn("changeset failed, uploading whole file", "path", f.Path, "error", err)
		return a.replaceUpdate(f, u)
	}

	diffSum, diffSize, err := u.stage(changeset)
	if err != nil {
		return history.FileUpdate{}, err
	}
	if withFull {
		if err := u.stageFile(f); err != nil {
			return history.FileUpdate{}, err
		}
	}
	cur, _ := findEntry(p.Files, f.Path)
	a.logger.Debug("staged changeset", "path", f.Path, "size", f.Size, "changeset", diffSize)
	return history.FileUpdate{
		Path:     f.Path,
		Kind:     history.UpdatePatch,
		Checksum: f.Checksum,
		Size:     f.Size,
		Diff: &history.DiffUpload{
			Checksum:     diffSum,
			Size:         diffSize,
			BaseChecksum: cur.Checksum,
		},
	}, nil
}

func (a *App) replaceUpdate(f fs.LocalFile, u *uploads) (history.FileUpdate, error) {
	if err := u.stageFile(f); err != nil {
		return history.FileUpdate{}, err
	}
	a.logger.Debug("staged replacement", "path", f.Path, "size", f.Size)
	return history.FileUpdate{Path: f.Path, Kind: history.UpdateReplace, Checksum: f.Checksum, Size: f.Size}, nil
}

// Checkpoint records a new version identical to the latest one.
func (a *App) Checkpoint(ctx context.Context, ref string, opts PushOptions) (*history.ProjectVersion, error) {
	if err := a.persistOperation(ctx, ref); err != nil {
		return nil, err
	}
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, a.op.Record(err)
	}
	pv, err := a.engine.Push(ctx, p.ID, history.PushRequest{Author: opts.Author, Device: opts.Device})
	if err != nil {
		a.logger.Error("checkpoint failed", "project", p.ID, "error", err)
		return nil, a.op.Record(err)
	}
	a.logger.Info("checkpoint committed", "project", p.ID, "version", pv.Version.String())
	return pv, nil
}

// uploads remembers what a push staged so leftovers can be released.
// Staged content is shared by checksum, so only the references this push
// took are given back.
type uploads struct {
	area      history.StagingArea
	checksums []string
}

func (u *uploads) stage(data []byte) (string, int64, error) {
	checksum, size, err := u.area.Stage(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("staging: %w", err)
	}
	u.checksums = append(u.checksums, checksum)
	return checksum, size, nil
}

// stageFile stages a scanned file and checks it still has the scanned content.
func (u *uploads) stageFile(f fs.LocalFile) error {
	r, err := os.Open(f.AbsPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Path, err)
	}
	defer r.Close()

	checksum, _, err := u.area.Stage(r)
	if err != nil {
		return fmt.Errorf("staging %s: %w", f.Path, err)
	}
	u.checksums = append(u.checksums, checksum)
	if checksum != f.Checksum {
		return fmt.Errorf("%s: %w", f.Path, fs.ErrFileChanged)
	}
	return nil
}

// release drops the references taken by stage and stageFile, except those
// in consumed, which a committed push has already given back.
func (u *uploads) release(consumed []string) {
	skip := make(map[string]int, len(consumed))
	for _, c := range consumed {
		skip[c]++
	}
	for _, c := range u.checksums {
		if skip[c] > 0 {
			skip[c]--
			continue
		}
		_ = u.area.Remove(c)
	}
}

func findEntry(files []history.FileEntry, path string) (history.FileEntry, bool) {
	for _, f := range files {
		if f.Path == path {
			return f, true
		}
	}
	return history.FileEntry{}, false
}

// IsFileChanged reports whether err means a local file changed mid-push.
func IsFileChanged(err error) bool {
	return errors.Is(err, fs.ErrFileChanged)
}
