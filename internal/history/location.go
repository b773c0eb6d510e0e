package history

import "path"

// StorageKind tells how a file entry came to be stored.
type StorageKind string

const (
	StorageFullCopy StorageKind = "full"
	StorageDiff     StorageKind = "diff"
)

// FileLocation returns where the full content of path written by push
// attempt at version v lives, relative to the project namespace:
// "v<n>/<attempt>/<path>". Attempts never share a prefix, so two writers
// racing for the same version cannot touch each other's blobs.
func FileLocation(v VersionID, attempt, filePath string) string {
	return path.Join(v.String(), attempt, filePath)
}

// DiffLocation returns where the changeset for path written by attempt at
// version v lives: "v<n>/<attempt>-diff/<path>".
func DiffLocation(v VersionID, attempt, filePath string) string {
	return path.Join(v.String(), attempt+"-diff", filePath)
}

// UploadLocation holds a staged changeset while the attempt applies it.
// It is moved to DiffLocation once the patched content checks out.
func UploadLocation(v VersionID, attempt, filePath string) string {
	return path.Join(v.String(), attempt+"-upload", filePath)
}

// BlobKey maps a location inside a project to a physical blob key.
func BlobKey(projectID, location string) string {
	return projectID + "/" + location
}

// ProjectPrefix returns the key prefix shared by all blobs of a project.
func ProjectPrefix(projectID string) string {
	return projectID + "/"
}

// KindOf reports the storage kind of an entry.
func KindOf(e FileEntry) StorageKind {
	if e.IsFullCopy() {
		return StorageFullCopy
	}
	return StorageDiff
}
