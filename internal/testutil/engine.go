package testutil

import (
	"bytes"
	"testing"
	"time"

	"verhist/internal/blob"
	"verhist/internal/database"
	"verhist/internal/diff"
	"verhist/internal/history"
)

// Env bundles an Engine with direct handles on its collaborators.
type Env struct {
	Engine  *history.Engine
	Repo    *database.SQLiteDatabase
	Blobs   *blob.MemoryStore
	Staging history.StagingArea
	Clock   *ManualClock
	IDs     *SequentialIDs
}

// EnvOption customizes NewTestEngine.
type EnvOption func(*envConfig)

type envConfig struct {
	engine  history.DiffEngine
	timeout time.Duration
	opts    history.Options
}

// WithDiffEngine replaces the bsdiff engine.
func WithDiffEngine(e history.DiffEngine) EnvOption {
	return func(c *envConfig) { c.engine = e }
}

// WithDiffTimeout sets the per-call diff timeout.
func WithDiffTimeout(d time.Duration) EnvOption {
	return func(c *envConfig) { c.timeout = d }
}

// WithVersionedExtensions overrides the versioned extension list.
func WithVersionedExtensions(exts ...string) EnvOption {
	return func(c *envConfig) { c.opts.VersionedExtensions = exts }
}

// NewTestEngine builds an Engine over an in-memory database, blob store and
// staging area, using bsdiff, a fixed clock and sequential IDs.
func NewTestEngine(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	cfg := envConfig{engine: diff.NewBsdiff()}
	for _, o := range opts {
		o(&cfg)
	}

	env := &Env{
		Repo:    NewTestDatabase(t),
		Blobs:   blob.NewMemoryStore(),
		Staging: NewTestStagingArea(),
		Clock:   FixedClock(),
		IDs:     NewSequentialIDs(),
	}
	differ := history.NewDiffer(cfg.engine, cfg.timeout, 2)
	env.Engine = history.NewEngine(env.Repo, env.Blobs, env.Staging, differ, env.Clock, env.IDs, cfg.opts)
	return env
}

// Upload stages data and returns the matching FileUpload for path.
func (e *Env) Upload(t *testing.T, path string, data []byte) history.FileUpload {
	t.Helper()
	checksum, size := Stage(t, e.Staging, data)
	return history.FileUpload{Path: path, Checksum: checksum, Size: size}
}

// Replace stages data as the full new content of path.
func (e *Env) Replace(t *testing.T, path string, data []byte) history.FileUpdate {
	t.Helper()
	up := e.Upload(t, path, data)
	return history.FileUpdate{Path: path, Kind: history.UpdateReplace, Checksum: up.Checksum, Size: up.Size}
}

// Patch computes a changeset from base to modified, stages it and returns
// the matching patch update.
func (e *Env) Patch(t *testing.T, path string, base, modified []byte) history.FileUpdate {
	t.Helper()
	var changeset bytes.Buffer
	if err := diff.NewBsdiff().CreateChangeset(bytes.NewReader(base), bytes.NewReader(modified), &changeset); err != nil {
		t.Fatalf("creating changeset for %s: %v", path, err)
	}
	checksum, size := Stage(t, e.Staging, changeset.Bytes())
	return history.FileUpdate{
		Path:     path,
		Kind:     history.UpdatePatch,
		Checksum: SHA256Hex(modified),
		Size:     int64(len(modified)),
		Diff: &history.DiffUpload{
			Checksum:     checksum,
			Size:         size,
			BaseChecksum: SHA256Hex(base),
		},
	}
}
