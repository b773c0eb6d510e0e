package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"verhist/internal/database/migrations"
	"verhist/internal/history"
)

// SQLiteDatabase implements history.Repository and the operation log using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ history.Repository = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// DSN options apply to every pooled connection, unlike a one-off PRAGMA.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Project operations

const projectColumns = `id, workspace, name, creator, created_at, updated_at, latest_version, files, disk_usage, tags`

func (s *SQLiteDatabase) CreateProject(ctx context.Context, p *history.Project) error {
	files, tags, err := encodeSnapshot(p.Files, p.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Workspace, p.Name, p.Creator, p.CreatedAt, p.UpdatedAt,
		int64(p.LatestVersion), files, p.DiskUsage, tags,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) || isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return history.ErrProjectExists
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindProjectByID(ctx context.Context, id string) (*history.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding project by id: %w", err)
	}
	return p, nil
}

func (s *SQLiteDatabase) FindProjectByName(ctx context.Context, workspace, name string) (*history.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE workspace = ? AND name = ?`, workspace, name)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteDatabase) ListProjects(ctx context.Context) ([]*history.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY workspace, name`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var result []*history.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM project_versions WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("deleting project versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Version operations

const versionColumns = `project_id, version, author, device, created_at, changes, files, size, fingerprint`

func (s *SQLiteDatabase) FindVersion(ctx context.Context, projectID string, version history.VersionID) (*history.ProjectVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM project_versions WHERE project_id = ? AND version = ?`,
		projectID, int64(version))
	pv, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding version: %w", err)
	}
	return pv, nil
}

func (s *SQLiteDatabase) ListVersions(ctx context.Context, projectID string) ([]*history.ProjectVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM project_versions WHERE project_id = ? ORDER BY version`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var result []*history.ProjectVersion
	for rows.Next() {
		pv, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		result = append(result, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return result, nil
}

// CommitVersion inserts the version and advances the project in one
// transaction. The project row is only updated if it is still at the
// version the push was built on.
func (s *SQLiteDatabase) CommitVersion(ctx context.Context, p *history.Project, v *history.ProjectVersion) error {
	if p.ID != v.ProjectID || p.LatestVersion != v.Version {
		return fmt.Errorf("project %s at %s does not match version %s of %s", p.ID, p.LatestVersion, v.Version, v.ProjectID)
	}

	files, tags, err := encodeSnapshot(p.Files, p.Tags)
	if err != nil {
		return err
	}
	versionFiles, err := json.Marshal(nonNilFiles(v.Files))
	if err != nil {
		return fmt.Errorf("encoding version files: %w", err)
	}
	changes, err := json.Marshal(v.Changes)
	if err != nil {
		return fmt.Errorf("encoding changes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE projects
		 SET latest_version = ?, files = ?, disk_usage = ?, tags = ?, updated_at = ?
		 WHERE id = ? AND latest_version = ?`,
		int64(p.LatestVersion), files, p.DiskUsage, tags, p.UpdatedAt,
		p.ID, int64(v.Version-1),
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if n == 0 {
		return history.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO project_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ProjectID, int64(v.Version), v.Author, v.Device, v.CreatedAt,
		string(changes), string(versionFiles), v.Size, v.Fingerprint,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return history.ErrVersionConflict
		}
		return fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Operation tracking

// Operation is one recorded CLI command.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*Operation, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, 'running')`,
		operation, parameters, startedAt)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     "running",
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`, finishedAt, status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, parameters, started_at, finished_at, status
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrationStatus reports the current and latest schema versions.
func (s *SQLiteDatabase) MigrationStatus() (migrations.Status, error) {
	return migrations.GetStatus(s.db)
}

// MigrateUp applies pending migrations.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*history.Project, error) {
	var p history.Project
	var version int64
	var files, tags string
	err := row.Scan(&p.ID, &p.Workspace, &p.Name, &p.Creator, &p.CreatedAt, &p.UpdatedAt,
		&version, &files, &p.DiskUsage, &tags)
	if err != nil {
		return nil, err
	}
	p.LatestVersion = history.VersionID(version)
	if err := json.Unmarshal([]byte(files), &p.Files); err != nil {
		return nil, fmt.Errorf("decoding files of project %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of project %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanVersion(row scanner) (*history.ProjectVersion, error) {
	var v history.ProjectVersion
	var version int64
	var changes, files string
	err := row.Scan(&v.ProjectID, &version, &v.Author, &v.Device, &v.CreatedAt,
		&changes, &files, &v.Size, &v.Fingerprint)
	if err != nil {
		return nil, err
	}
	v.Version = history.VersionID(version)
	if err := json.Unmarshal([]byte(changes), &v.Changes); err != nil {
		return nil, fmt.Errorf("decoding changes of %s@%s: %w", v.ProjectID, v.Version, err)
	}
	if err := json.Unmarshal([]byte(files), &v.Files); err != nil {
		return nil, fmt.Errorf("decoding files of %s@%s: %w", v.ProjectID, v.Version, err)
	}
	return &v, nil
}

func encodeSnapshot(files []history.FileEntry, tags []string) (string, string, error) {
	f, err := json.Marshal(nonNilFiles(files))
	if err != nil {
		return "", "", fmt.Errorf("encoding files: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(f), string(t), nil
}

func nonNilFiles(files []history.FileEntry) []history.FileEntry {
	if files == nil {
		return []history.FileEntry{}
	}
	return files
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}
