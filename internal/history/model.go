package history

import "time"

// Project is a named container of versioned files.
// Files, DiskUsage and Tags always describe the snapshot at LatestVersion.
type Project struct {
	ID            string
	Name          string
	Workspace     string
	Creator       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LatestVersion VersionID
	Files         []FileEntry
	DiskUsage     int64
	Tags          []string
}

// NewProject holds the caller-supplied fields for CreateProject.
type NewProject struct {
	Name      string
	Workspace string
	Creator   string
}

// ProjectVersion is the immutable record of one accepted push.
type ProjectVersion struct {
	ProjectID   string
	Version     VersionID
	Author      string
	Device      string // originating network/source info, e.g. client address
	CreatedAt   time.Time
	Changes     ChangeSet
	Files       []FileEntry
	Size        int64
	Fingerprint string
}

// FileEntry is one file's state within a snapshot.
//
// Location always holds the full content of the file at this version.
// Diff is nil for a full copy (fresh upload, forced replacement);
// otherwise it describes the changeset from the same path at Version-1.
type FileEntry struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	Location string    `json:"location"`
	Version  VersionID `json:"version"` // version whose push wrote this entry
	Diff     *DiffLink `json:"diff,omitempty"`
}

// IsFullCopy reports whether the entry starts a lineage of its own.
func (e FileEntry) IsFullCopy() bool {
	return e.Diff == nil
}

// DiffLink describes the stored changeset that turns the previous
// version's content into this entry's content.
type DiffLink struct {
	Checksum     string `json:"checksum"`
	Size         int64  `json:"size"`
	Location     string `json:"location"`
	BaseChecksum string `json:"base_checksum"`
}

// ChangeSet is the set of changes submitted with one push.
// A path may appear in at most one list.
type ChangeSet struct {
	Added   []FileUpload `json:"added"`
	Removed []FileRef    `json:"removed"`
	Updated []FileUpdate `json:"updated"`
}

// IsEmpty reports whether the change set carries no changes.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Updated) == 0
}

// FileUpload describes a new file whose full content is staged under Checksum.
type FileUpload struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// FileRef names a file to remove. Checksum is informational.
type FileRef struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum,omitempty"`
}

// UpdateKind selects how an updated file is materialized.
type UpdateKind string

const (
	// UpdatePatch applies a staged changeset to the previous content
	// and continues the diff chain.
	UpdatePatch UpdateKind = "patch"
	// UpdateReplace stores staged full content and breaks the diff chain.
	UpdateReplace UpdateKind = "replace"
)

// FileUpdate describes a changed file. Checksum and Size describe the
// resulting full content.
type FileUpdate struct {
	Path     string      `json:"path"`
	Checksum string      `json:"checksum"`
	Size     int64       `json:"size"`
	Kind     UpdateKind  `json:"kind"`
	Diff     *DiffUpload `json:"diff,omitempty"`
}

// DiffUpload names a staged changeset and the content it was computed against.
type DiffUpload struct {
	Checksum     string `json:"checksum"`
	Size         int64  `json:"size"`
	BaseChecksum string `json:"base_checksum"`
}

// PushRequest is the input to Engine.Push.
type PushRequest struct {
	Author  string
	Device  string
	Changes ChangeSet

	// FallbackToReplace turns a failed patch into a forced replacement
	// when the full content for the update is staged.
	FallbackToReplace bool
}

// ChangeKind classifies what happened to a path in a version.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangePatched  ChangeKind = "patched"
	ChangeReplaced ChangeKind = "replaced"
	ChangeRemoved  ChangeKind = "removed"
)

// FileHistoryEntry is one version in which a path was written or removed.
type FileHistoryEntry struct {
	Version   VersionID
	Change    ChangeKind
	Checksum  string
	Size      int64
	Author    string
	CreatedAt time.Time
}

// findFile returns the entry for path and whether it was found.
func findFile(files []FileEntry, path string) (FileEntry, bool) {
	for _, f := range files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// cloneFiles returns a deep copy of files so the caller can change it
// without touching a committed snapshot.
func cloneFiles(files []FileEntry) []FileEntry {
	out := make([]FileEntry, len(files))
	for i, f := range files {
		out[i] = f
		if f.Diff != nil {
			d := *f.Diff
			out[i].Diff = &d
		}
	}
	return out
}
