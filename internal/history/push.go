package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Push validates req against the latest snapshot of a project, writes the
// content of the new version and commits it. On any error nothing written
// by the push is left behind and the project is unchanged.
//
// Every attempt writes under its own key prefix, so a push that loses the
// commit race to another process only removes its own blobs. After a
// successful commit one staging reference is released per upload the
// change set used, see ConsumedUploads; on failure staged content is kept
// for a retry.
func (e *Engine) Push(ctx context.Context, projectID string, req PushRequest) (*ProjectVersion, error) {
	unlock, err := e.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	project, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := Validate(project.Files, req.Changes, e.types); err != nil {
		return nil, err
	}
	if err := e.checkStaged(req.Changes); err != nil {
		return nil, err
	}

	w := &chainWriter{
		engine:   e,
		project:  project,
		version:  project.LatestVersion.Next(),
		attempt:  e.ids.New(),
		fallback: req.FallbackToReplace,
	}
	files, err := w.build(ctx, req.Changes)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		w.rollback()
		return nil, err
	}

	agg := Aggregate(files, e.types)
	now := e.clock.Now()
	pv := &ProjectVersion{
		ProjectID:   project.ID,
		Version:     w.version,
		Author:      req.Author,
		Device:      req.Device,
		CreatedAt:   now,
		Changes:     cloneChangeSet(req.Changes),
		Files:       files,
		Size:        SnapshotSize(files),
		Fingerprint: Fingerprint(files),
	}

	updated := *project
	updated.LatestVersion = w.version
	updated.Files = cloneFiles(files)
	updated.DiskUsage = agg.DiskUsage
	updated.Tags = agg.Tags
	updated.UpdatedAt = now

	if err := e.repo.CommitVersion(ctx, &updated, pv); err != nil {
		w.rollback()
		if errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("committing %s of %s: %w", w.version, project.ID, err)
	}

	e.releaseUploads(ConsumedUploads(req.Changes, files))
	return pv, nil
}

// checkStaged makes sure every upload the change set refers to is staged
// with the declared size before anything is written.
func (e *Engine) checkStaged(cs ChangeSet) error {
	check := func(p, checksum string, size int64) error {
		staged, found, err := e.staging.Lookup(checksum)
		if err != nil {
			return &StorageIOError{Op: "lookup", Key: checksum, Err: err}
		}
		if !found {
			return &ValidationError{Path: p, Rule: RuleNotUploaded, Detail: checksum}
		}
		if staged != size {
			return &ValidationError{
				Path:   p,
				Rule:   RuleSizeMismatch,
				Detail: fmt.Sprintf("declared %d bytes, staged %d", size, staged),
			}
		}
		return nil
	}

	for _, a := range cs.Added {
		if err := check(a.Path, a.Checksum, a.Size); err != nil {
			return err
		}
	}
	for _, u := range cs.Updated {
		var err error
		if u.Kind == UpdatePatch {
			err = check(u.Path, u.Diff.Checksum, u.Diff.Size)
		} else {
			err = check(u.Path, u.Checksum, u.Size)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// chainWriter materializes one new version. It remembers every blob it
// wrote so a failed push can be undone.
type chainWriter struct {
	engine   *Engine
	project  *Project
	version  VersionID
	attempt  string
	fallback bool

	written []string
}

// build returns the file list of the new version. The current snapshot
// is copied, never modified.
func (w *chainWriter) build(ctx context.Context, cs ChangeSet) ([]FileEntry, error) {
	removed := make(map[string]bool, len(cs.Removed))
	for _, r := range cs.Removed {
		removed[r.Path] = true
	}
	updates := make(map[string]FileUpdate, len(cs.Updated))
	for _, u := range cs.Updated {
		updates[u.Path] = u
	}

	files := make([]FileEntry, 0, len(w.project.Files)+len(cs.Added))
	for _, cur := range cloneFiles(w.project.Files) {
		if removed[cur.Path] {
			continue
		}
		u, ok := updates[cur.Path]
		if !ok {
			files = append(files, cur)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var entry FileEntry
		var err error
		switch u.Kind {
		case UpdatePatch:
			entry, err = w.patch(ctx, cur, u)
			var applyErr *DiffApplyError
			if err != nil && w.fallback && errors.As(err, &applyErr) && w.hasFullContent(u) {
				// the rejected changeset is not part of the version
				_ = w.engine.blobs.Delete(ctx, w.key(UploadLocation(w.version, w.attempt, u.Path)))
				entry, err = w.replace(ctx, u.Path, u.Checksum, u.Size)
			}
		default:
			entry, err = w.replace(ctx, u.Path, u.Checksum, u.Size)
		}
		if err != nil {
			return nil, err
		}
		files = append(files, entry)
	}

	for _, a := range cs.Added {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := w.replace(ctx, a.Path, a.Checksum, a.Size)
		if err != nil {
			return nil, err
		}
		files = append(files, entry)
	}
	return files, nil
}

// replace stores staged full content as a new lineage.
func (w *chainWriter) replace(ctx context.Context, filePath, checksum string, size int64) (FileEntry, error) {
	location := FileLocation(w.version, w.attempt, filePath)
	if err := w.putStaged(ctx, location, checksum, size); err != nil {
		return FileEntry{}, err
	}
	return FileEntry{
		Path:     filePath,
		Checksum: checksum,
		Size:     size,
		Location: location,
		Version:  w.version,
	}, nil
}

// patch copies the previous content to the new location, applies the
// staged changeset to it and relocates the changeset next to it.
func (w *chainWriter) patch(ctx context.Context, cur FileEntry, u FileUpdate) (FileEntry, error) {
	e := w.engine
	location := FileLocation(w.version, w.attempt, u.Path)
	key := w.key(location)

	if err := e.blobs.Copy(ctx, w.key(cur.Location), key); err != nil {
		return FileEntry{}, &StorageIOError{Op: "copy", Key: w.key(cur.Location), Err: err}
	}
	w.written = append(w.written, key)

	upload := UploadLocation(w.version, w.attempt, u.Path)
	uploadKey := w.key(upload)
	if err := w.putStaged(ctx, upload, u.Diff.Checksum, u.Diff.Size); err != nil {
		return FileEntry{}, err
	}

	base, err := w.readBlob(ctx, key)
	if err != nil {
		return FileEntry{}, err
	}
	changeset, err := w.readBlob(ctx, uploadKey)
	if err != nil {
		return FileEntry{}, err
	}

	patched, err := e.differ.Apply(ctx, u.Path, base, changeset)
	if err != nil {
		return FileEntry{}, err
	}
	if sum := checksumOf(patched); sum != u.Checksum {
		return FileEntry{}, &DiffApplyError{
			Path: u.Path,
			Err:  fmt.Errorf("patched checksum %s does not match declared %s", sum, u.Checksum),
		}
	}
	if err := w.put(ctx, key, patched); err != nil {
		return FileEntry{}, err
	}

	diffLocation := DiffLocation(w.version, w.attempt, u.Path)
	diffKey := w.key(diffLocation)
	w.written = append(w.written, diffKey)
	if err := e.blobs.Move(ctx, uploadKey, diffKey); err != nil {
		return FileEntry{}, &StorageIOError{Op: "move", Key: uploadKey, Err: err}
	}

	return FileEntry{
		Path:     u.Path,
		Checksum: u.Checksum,
		Size:     int64(len(patched)),
		Location: location,
		Version:  w.version,
		Diff: &DiffLink{
			Checksum:     u.Diff.Checksum,
			Size:         u.Diff.Size,
			Location:     diffLocation,
			BaseChecksum: u.Diff.BaseChecksum,
		},
	}, nil
}

func (w *chainWriter) hasFullContent(u FileUpdate) bool {
	size, found, err := w.engine.staging.Lookup(u.Checksum)
	return err == nil && found && size == u.Size
}

func (w *chainWriter) key(location string) string {
	return BlobKey(w.project.ID, location)
}

func (w *chainWriter) putStaged(ctx context.Context, location, checksum string, size int64) error {
	rc, err := w.engine.staging.Open(checksum)
	if err != nil {
		return &StorageIOError{Op: "open-staged", Key: checksum, Err: err}
	}
	defer rc.Close()

	key := w.key(location)
	w.written = append(w.written, key)
	if err := w.engine.blobs.Put(ctx, key, rc, size); err != nil {
		return &StorageIOError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (w *chainWriter) put(ctx context.Context, key string, data []byte) error {
	w.written = append(w.written, key)
	if err := w.engine.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return &StorageIOError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (w *chainWriter) readBlob(ctx context.Context, key string) ([]byte, error) {
	return w.engine.readBlob(ctx, key)
}

// rollback deletes every blob written by the push. It runs detached from
// the push context, which may already be cancelled.
func (w *chainWriter) rollback() {
	ctx := context.Background()
	for i := len(w.written) - 1; i >= 0; i-- {
		_ = w.engine.blobs.Delete(ctx, w.written[i])
	}
	w.written = nil
}

// ConsumedUploads lists the staged checksums a committed change set used,
// one entry per use. files is the committed snapshot; a patched entry
// without a DiffLink fell back to its staged full content.
func ConsumedUploads(cs ChangeSet, files []FileEntry) []string {
	used := make([]string, 0, len(cs.Added)+len(cs.Updated))
	for _, a := range cs.Added {
		used = append(used, a.Checksum)
	}
	for _, u := range cs.Updated {
		if u.Kind == UpdatePatch {
			if f, ok := findFile(files, u.Path); ok && f.Diff != nil {
				used = append(used, u.Diff.Checksum)
				continue
			}
		}
		used = append(used, u.Checksum)
	}
	return used
}

// releaseUploads drops one staging reference per consumed upload.
// Leftovers are harmless, so failures are ignored.
func (e *Engine) releaseUploads(checksums []string) {
	for _, c := range checksums {
		_ = e.staging.Remove(c)
	}
}

func cloneChangeSet(cs ChangeSet) ChangeSet {
	out := ChangeSet{
		Added:   append([]FileUpload{}, cs.Added...),
		Removed: append([]FileRef{}, cs.Removed...),
		Updated: make([]FileUpdate, len(cs.Updated)),
	}
	for i, u := range cs.Updated {
		out.Updated[i] = u
		if u.Diff != nil {
			d := *u.Diff
			out.Updated[i].Diff = &d
		}
	}
	return out
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
