package history

import (
	"errors"
	"fmt"
)

// ErrVersionConflict is returned when a commit finds that the project
// advanced past the version the push was built on.
var ErrVersionConflict = errors.New("project version conflict")

// ErrProjectExists is returned by CreateProject for a taken workspace/name pair.
var ErrProjectExists = errors.New("project already exists")

// ErrBlobNotFound is wrapped by BlobStore implementations for missing keys.
var ErrBlobNotFound = errors.New("blob not found")

// ErrNotStaged is wrapped by StagingArea implementations for unknown checksums.
var ErrNotStaged = errors.New("content not staged")

// Validation rules reported in ValidationError.Rule.
const (
	RuleInvalidPath       = "invalid_path"
	RuleDuplicatePath     = "duplicate_path"
	RuleNotFound          = "not_found"
	RuleAlreadyExists     = "already_exists"
	RuleInvalidChecksum   = "invalid_checksum"
	RuleInvalidSize       = "invalid_size"
	RuleInvalidUpdateKind = "invalid_update_kind"
	RuleStaleBase         = "stale_base"
	RuleNotVersioned      = "not_versioned"
	RuleNotUploaded       = "not_uploaded"
	RuleSizeMismatch      = "size_mismatch"
)

// ValidationError reports a change set that is inconsistent with the
// current snapshot. It never leaves state behind.
type ValidationError struct {
	Path   string
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invalid change set: %s: %s", e.Path, e.Rule)
	}
	return fmt.Sprintf("invalid change set: %s: %s: %s", e.Path, e.Rule, e.Detail)
}

// StorageIOError reports a failed read, write, copy or delete of a blob.
type StorageIOError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// DiffApplyError reports a changeset the diff engine could not apply,
// or one whose result does not match the declared checksum.
type DiffApplyError struct {
	Path    string
	Timeout bool
	Err     error
}

func (e *DiffApplyError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("applying changeset to %s: timed out: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("applying changeset to %s: %v", e.Path, e.Err)
}

func (e *DiffApplyError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown project, version or path on read.
type NotFoundError struct {
	Kind string // "project", "version" or "file"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
