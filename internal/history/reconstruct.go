package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// Warning kinds reported by VerifyChain.
const (
	WarnBrokenLineage    = "broken_lineage"
	WarnBaseMismatch     = "base_mismatch"
	WarnChecksumMismatch = "checksum_mismatch"
	WarnReplayMismatch   = "replay_mismatch"
	WarnMissingArtifact  = "missing_artifact"
	WarnDiffFailed       = "diff_failed"
)

// ChainIntegrityWarning is an inconsistency found while verifying a chain.
// It is a report value, not an error.
type ChainIntegrityWarning struct {
	Version VersionID
	Path    string
	Kind    string
	Message string
}

func (w ChainIntegrityWarning) String() string {
	return fmt.Sprintf("%s %s: %s: %s", w.Version, w.Path, w.Kind, w.Message)
}

// ChainStep is one entry of a verified lineage.
type ChainStep struct {
	Version  VersionID
	Checksum string
	HasDiff  bool
	StoredOK bool // stored full copy hashes to Checksum
	ReplayOK bool // replaying changesets from the anchor yields Checksum
}

// IntegrityReport is the result of VerifyChain. Steps are listed newest first
// and end at Anchor, the nearest full copy, when the lineage is intact.
type IntegrityReport struct {
	ProjectID string
	Version   VersionID
	Path      string
	Anchor    VersionID
	Steps     []ChainStep
	Warnings  []ChainIntegrityWarning
	OK        bool
}

func (r *IntegrityReport) warn(v VersionID, kind, format string, args ...any) {
	r.Warnings = append(r.Warnings, ChainIntegrityWarning{
		Version: v,
		Path:    r.Path,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	})
}

// GetFileAt returns the full content of path as of version.
func (e *Engine) GetFileAt(ctx context.Context, projectID string, version VersionID, filePath string) ([]byte, error) {
	pv, err := e.GetVersion(ctx, projectID, version)
	if err != nil {
		return nil, err
	}
	entry, ok := findFile(pv.Files, filePath)
	if !ok {
		return nil, &NotFoundError{Kind: "file", Key: fmt.Sprintf("%s@%s:%s", projectID, version, filePath)}
	}
	return e.readBlob(ctx, BlobKey(projectID, entry.Location))
}

// VerifyChain checks the lineage of path as visible at version: every stored
// full copy must match its checksum, and replaying the changesets forward
// from the nearest full copy must reproduce each checksum. Problems are
// reported as warnings; errors are returned only for unknown inputs or
// repository failures.
func (e *Engine) VerifyChain(ctx context.Context, projectID string, version VersionID, filePath string) (*IntegrityReport, error) {
	pv, err := e.GetVersion(ctx, projectID, version)
	if err != nil {
		return nil, err
	}
	entry, ok := findFile(pv.Files, filePath)
	if !ok {
		return nil, &NotFoundError{Kind: "file", Key: fmt.Sprintf("%s@%s:%s", projectID, version, filePath)}
	}

	report := &IntegrityReport{
		ProjectID: projectID,
		Version:   version,
		Path:      filePath,
	}

	chain, intact, err := e.walkLineage(ctx, projectID, entry, report)
	if err != nil {
		return nil, err
	}

	contents := make([][]byte, len(chain))
	report.Steps = make([]ChainStep, len(chain))
	for i, c := range chain {
		report.Steps[i] = ChainStep{Version: c.Version, Checksum: c.Checksum, HasDiff: c.Diff != nil}
		data, err := e.readBlob(ctx, BlobKey(projectID, c.Location))
		if err != nil {
			report.warn(c.Version, WarnMissingArtifact, "full copy %s: %v", c.Location, err)
			continue
		}
		if sum := checksumOf(data); sum != c.Checksum {
			report.warn(c.Version, WarnChecksumMismatch, "full copy hashes to %s, entry says %s", sum, c.Checksum)
			continue
		}
		report.Steps[i].StoredOK = true
		contents[i] = data
	}

	if intact {
		anchor := len(chain) - 1
		report.Anchor = chain[anchor].Version
		e.replay(ctx, projectID, chain, contents, report)
	}

	report.OK = len(report.Warnings) == 0
	return report, nil
}

// walkLineage follows DiffLinks backward from entry. The returned chain is
// newest first. intact is false when the walk stopped before a full copy.
func (e *Engine) walkLineage(ctx context.Context, projectID string, entry FileEntry, report *IntegrityReport) ([]FileEntry, bool, error) {
	chain := []FileEntry{entry}
	cur := entry
	for cur.Diff != nil {
		prev := cur.Version - 1
		if prev < 1 {
			report.warn(cur.Version, WarnBrokenLineage, "changeset at %s has no preceding version", cur.Version)
			return chain, false, nil
		}
		pv, err := e.repo.FindVersion(ctx, projectID, prev)
		if err != nil {
			return nil, false, fmt.Errorf("finding version %s of %s: %w", prev, projectID, err)
		}
		if pv == nil {
			report.warn(cur.Version, WarnBrokenLineage, "preceding version %s is missing", prev)
			return chain, false, nil
		}
		base, ok := findFile(pv.Files, cur.Path)
		if !ok {
			report.warn(cur.Version, WarnBrokenLineage, "path is absent at %s", prev)
			return chain, false, nil
		}
		if base.Checksum != cur.Diff.BaseChecksum {
			report.warn(cur.Version, WarnBaseMismatch, "changeset base %s, %s has %s", cur.Diff.BaseChecksum, prev, base.Checksum)
			return chain, false, nil
		}
		chain = append(chain, base)
		cur = base
	}
	return chain, true, nil
}

// replay applies changesets forward from the anchor at the end of chain.
// It stops at the first step that cannot be reproduced.
func (e *Engine) replay(ctx context.Context, projectID string, chain []FileEntry, contents [][]byte, report *IntegrityReport) {
	anchor := len(chain) - 1
	content := contents[anchor]
	if content == nil {
		return
	}
	report.Steps[anchor].ReplayOK = true

	for i := anchor - 1; i >= 0; i-- {
		c := chain[i]
		changeset, err := e.readBlob(ctx, BlobKey(projectID, c.Diff.Location))
		if err != nil {
			report.warn(c.Version, WarnMissingArtifact, "changeset %s: %v", c.Diff.Location, err)
			return
		}
		if sum := checksumOf(changeset); sum != c.Diff.Checksum {
			report.warn(c.Version, WarnChecksumMismatch, "changeset hashes to %s, link says %s", sum, c.Diff.Checksum)
			return
		}
		patched, err := e.differ.Apply(ctx, c.Path, content, changeset)
		if err != nil {
			report.warn(c.Version, WarnDiffFailed, "%v", err)
			return
		}
		if sum := checksumOf(patched); sum != c.Checksum {
			report.warn(c.Version, WarnReplayMismatch, "replay hashes to %s, entry says %s", sum, c.Checksum)
			return
		}
		report.Steps[i].ReplayOK = true
		content = patched
	}
}

func (e *Engine) readBlob(ctx context.Context, key string) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.blobs.Get(ctx, key, &buf); err != nil {
		return nil, &StorageIOError{Op: "get", Key: key, Err: err}
	}
	return buf.Bytes(), nil
}

// IsStorageMissing reports whether err is a StorageIOError for a missing blob.
func IsStorageMissing(err error) bool {
	var se *StorageIOError
	return errors.As(err, &se) && errors.Is(se.Err, ErrBlobNotFound)
}
