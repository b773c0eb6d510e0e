package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"verhist/internal/blob"
	"verhist/internal/config"
	"verhist/internal/database"
	"verhist/internal/diff"
	"verhist/internal/fs"
	"verhist/internal/history"
	"verhist/internal/staging"
)

// DefaultWorkspace is used for project references without a workspace.
const DefaultWorkspace = "default"

// Database is the metadata store the application layer needs.
type Database interface {
	history.Repository
	CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*database.Operation, error)
	FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error
	ListOperations(ctx context.Context, limit int) ([]*database.Operation, error)
	BackupTo(destPath string) error
	CheckMigrations() error
	Close() error
}

var _ Database = (*database.SQLiteDatabase)(nil)

// Option customizes NewApp.
type Option func(*App)

// WithConsole mirrors log output to w, typically os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(a *App) { a.console = w }
}

// App is the application layer between the CLI and the history engine.
// It constructs all dependencies from config, exposes high-level operations
// that accept project references and local paths, and manages the DB
// lifecycle on Close.
type App struct {
	cfg     *config.Config
	db      Database
	blobs   history.BlobStore
	staging history.StagingArea
	engine  *history.Engine
	scanner *fs.Scanner
	clock   history.Clock
	logger  *slog.Logger
	console io.Writer
	op      *Operation
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "PushDirectory").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, clock: history.RealClock{}}
	for _, o := range opts {
		o(a)
	}

	timeout, err := cfg.History.Timeout()
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewBlobStoreFromConfig(context.Background(), cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	opID := a.clock.Now().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, a.console)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	differ := history.NewDiffer(diff.NewBsdiff(), timeout, cfg.History.DiffWorkers)
	engine := history.NewEngine(db, blobs, sa, differ, a.clock, history.UUIDGenerator{}, history.Options{
		VersionedExtensions: cfg.History.VersionedExtensions,
	})

	a.db = db
	a.blobs = blobs
	a.staging = sa
	a.engine = engine
	a.scanner = fs.NewScanner(cfg.Filesystem.Ignore)
	a.logger = logger
	a.logFile = logFile
	a.op = NewOperation(operation, "")
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Engine exposes the underlying history engine.
func (a *App) Engine() *history.Engine {
	return a.engine
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *App) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Name, parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// ResolveProject finds a project by "workspace/name", by bare name in the
// default workspace, or by ID.
func (a *App) ResolveProject(ctx context.Context, ref string) (*history.Project, error) {
	if ws, name, ok := strings.Cut(ref, "/"); ok {
		return a.engine.FindProject(ctx, ws, name)
	}
	p, err := a.engine.FindProject(ctx, DefaultWorkspace, ref)
	if history.IsNotFound(err) {
		return a.engine.GetProject(ctx, ref)
	}
	return p, err
}

// CreateProject creates an empty project.
func (a *App) CreateProject(ctx context.Context, workspace, name, creator string) (*history.Project, error) {
	if workspace == "" {
		workspace = DefaultWorkspace
	}
	if err := a.persistOperation(ctx, workspace+"/"+name); err != nil {
		return nil, err
	}
	p, err := a.engine.CreateProject(ctx, history.NewProject{Name: name, Workspace: workspace, Creator: creator})
	if err != nil {
		a.logger.Error("project creation failed", "workspace", workspace, "name", name, "error", err)
		return nil, a.op.Record(err)
	}
	a.logger.Info("project created", "project", p.ID, "workspace", workspace, "name", p.Name)
	return p, nil
}

// ListProjects returns every project.
func (a *App) ListProjects(ctx context.Context) ([]*history.Project, error) {
	return a.engine.ListProjects(ctx)
}

// DeleteProject removes a project with all of its versions and content.
func (a *App) DeleteProject(ctx context.Context, ref string) error {
	if err := a.persistOperation(ctx, ref); err != nil {
		return err
	}
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return a.op.Record(err)
	}
	if err := a.engine.DeleteProject(ctx, p.ID); err != nil {
		a.logger.Error("project deletion failed", "project", p.ID, "error", err)
		return a.op.Record(err)
	}
	a.logger.Info("project deleted", "project", p.ID, "name", p.Name)
	return nil
}

// ListVersions returns the versions of a project, oldest first.
func (a *App) ListVersions(ctx context.Context, ref string) ([]*history.ProjectVersion, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return a.engine.ListVersions(ctx, p.ID)
}

// GetVersion returns one version of a project. Version 0 means the latest.
func (a *App) GetVersion(ctx context.Context, ref string, version history.VersionID) (*history.ProjectVersion, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	v, err := latestIfZero(p, version)
	if err != nil {
		return nil, err
	}
	return a.engine.GetVersion(ctx, p.ID, v)
}

// ReadFile returns the content of path at version. Version 0 means the latest.
func (a *App) ReadFile(ctx context.Context, ref string, version history.VersionID, path string) ([]byte, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	v, err := latestIfZero(p, version)
	if err != nil {
		return nil, err
	}
	return a.engine.GetFileAt(ctx, p.ID, v, path)
}

// FileHistory lists the versions that wrote or removed path, newest first.
func (a *App) FileHistory(ctx context.Context, ref, path string) ([]history.FileHistoryEntry, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return a.engine.FileHistory(ctx, p.ID, path)
}

// Verify checks the diff chain of path at version, or of every file in the
// snapshot when path is empty. Version 0 means the latest.
func (a *App) Verify(ctx context.Context, ref string, version history.VersionID, path string) ([]*history.IntegrityReport, error) {
	p, err := a.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	v, err := latestIfZero(p, version)
	if err != nil {
		return nil, err
	}

	paths := []string{path}
	if path == "" {
		files, err := a.engine.GetSnapshot(ctx, p.ID, v)
		if err != nil {
			return nil, err
		}
		paths = paths[:0]
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}

	reports := make([]*history.IntegrityReport, 0, len(paths))
	for _, fp := range paths {
		r, err := a.engine.VerifyChain(ctx, p.ID, v, fp)
		if err != nil {
			return nil, fmt.Errorf("verifying %s: %w", fp, err)
		}
		for _, w := range r.Warnings {
			a.logger.Warn("chain integrity", "project", p.ID, "warning", w.String())
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// GetHistory returns the most recent recorded operations.
func (a *App) GetHistory(ctx context.Context, limit int) ([]*database.Operation, error) {
	return a.db.ListOperations(ctx, limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record and stores a
// snapshot of the metadata database in the blob store.
// For non-persisted operations: just closes the database.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.op.Persisted() {
		ctx := context.Background()
		if err := a.db.FinishOperation(ctx, a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}
		keep(a.snapshotMetadata(ctx))
	}

	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// MetadataKey is the blob key of the metadata snapshot taken after operation id.
func MetadataKey(serviceID string, id int64) string {
	return fmt.Sprintf("_metadata/%s/db/%d", serviceID, id)
}

// snapshotMetadata copies the database to a temp file and uploads it.
func (a *App) snapshotMetadata(ctx context.Context) error {
	tmpFile, err := os.CreateTemp("", "verhist-db-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for db snapshot: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.db.BackupTo(tmpPath); err != nil {
		return err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening db snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db snapshot: %w", err)
	}

	key := MetadataKey(a.cfg.ServiceID, a.op.ID)
	if err := a.blobs.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("uploading db snapshot: %w", err)
	}
	a.logger.Info("metadata snapshot stored", "key", key, "size", info.Size())
	return nil
}

func latestIfZero(p *history.Project, v history.VersionID) (history.VersionID, error) {
	if v != 0 {
		return v, nil
	}
	if p.LatestVersion == 0 {
		return 0, &history.NotFoundError{Kind: "version", Key: p.ID + "@latest"}
	}
	return p.LatestVersion, nil
}
