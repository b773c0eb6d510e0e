package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"verhist/internal/history"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if _, err := db.db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProject(t *testing.T, db *SQLiteDatabase, id, name string) *history.Project {
	t.Helper()
	p := &history.Project{
		ID:        id,
		Name:      name,
		Workspace: "ws",
		Creator:   "alice",
		CreatedAt: testTime,
		UpdatedAt: testTime,
		Files:     []history.FileEntry{},
		Tags:      []string{},
	}
	if err := db.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return p
}

// nextVersion builds the project and version records for a push that
// replaces the file list with files.
func nextVersion(p *history.Project, files []history.FileEntry) (*history.Project, *history.ProjectVersion) {
	updated := *p
	updated.LatestVersion = p.LatestVersion.Next()
	updated.Files = files
	updated.DiskUsage = history.SnapshotSize(files)
	updated.Tags = []string{"versioned_data"}
	updated.UpdatedAt = testTime.Add(time.Hour)

	v := &history.ProjectVersion{
		ProjectID: p.ID,
		Version:   updated.LatestVersion,
		Author:    "alice",
		Device:    "10.0.0.1",
		CreatedAt: updated.UpdatedAt,
		Changes: history.ChangeSet{
			Added: []history.FileUpload{{Path: "data.gpkg", Checksum: "c1", Size: 10}},
		},
		Files:       files,
		Size:        history.SnapshotSize(files),
		Fingerprint: history.Fingerprint(files),
	}
	return &updated, v
}

func TestSQLiteDatabase_CreateAndFindProject(t *testing.T) {
	t.Run("returns nil when project not found", func(t *testing.T) {
		db := newTestDB(t)

		p, err := db.FindProjectByID(context.Background(), "missing")
		if err != nil {
			t.Fatalf("FindProjectByID() error = %v", err)
		}
		if p != nil {
			t.Errorf("FindProjectByID() = %v, want nil", p)
		}

		p, err = db.FindProjectByName(context.Background(), "ws", "missing")
		if err != nil {
			t.Fatalf("FindProjectByName() error = %v", err)
		}
		if p != nil {
			t.Errorf("FindProjectByName() = %v, want nil", p)
		}
	})

	t.Run("finds existing project", func(t *testing.T) {
		db := newTestDB(t)
		created := newTestProject(t, db, "p-1", "roads")

		found, err := db.FindProjectByName(context.Background(), "ws", "roads")
		if err != nil {
			t.Fatalf("FindProjectByName() error = %v", err)
		}
		if found == nil {
			t.Fatal("FindProjectByName() returned nil, want project")
		}
		if found.ID != created.ID || found.Creator != "alice" {
			t.Errorf("found = %+v, want %+v", found, created)
		}
		if !found.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, testTime)
		}
		if found.LatestVersion != 0 || len(found.Files) != 0 || len(found.Tags) != 0 {
			t.Errorf("new project = %+v, want empty at v0", found)
		}
	})

	t.Run("duplicate name in workspace", func(t *testing.T) {
		db := newTestDB(t)
		newTestProject(t, db, "p-1", "roads")

		err := db.CreateProject(context.Background(), &history.Project{
			ID: "p-2", Name: "roads", Workspace: "ws", CreatedAt: testTime, UpdatedAt: testTime,
		})
		if !errors.Is(err, history.ErrProjectExists) {
			t.Errorf("CreateProject() error = %v, want ErrProjectExists", err)
		}
	})
}

func TestSQLiteDatabase_ListProjects(t *testing.T) {
	db := newTestDB(t)
	newTestProject(t, db, "p-2", "water")
	newTestProject(t, db, "p-1", "roads")

	projects, err := db.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("len(projects) = %d, want 2", len(projects))
	}
	if projects[0].Name != "roads" || projects[1].Name != "water" {
		t.Errorf("order = [%s %s], want [roads water]", projects[0].Name, projects[1].Name)
	}
}

func TestSQLiteDatabase_CommitVersion(t *testing.T) {
	files := []history.FileEntry{
		{Path: "data.gpkg", Checksum: "c1", Size: 10, Location: "v1/data.gpkg", Version: 1},
	}

	t.Run("commits version and updates project", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		p := newTestProject(t, db, "p-1", "roads")

		updated, v := nextVersion(p, files)
		if err := db.CommitVersion(ctx, updated, v); err != nil {
			t.Fatalf("CommitVersion() error = %v", err)
		}

		got, err := db.FindProjectByID(ctx, "p-1")
		if err != nil {
			t.Fatalf("FindProjectByID() error = %v", err)
		}
		if got.LatestVersion != 1 || got.DiskUsage != 10 || len(got.Files) != 1 {
			t.Errorf("project = %+v, want v1 with one file of 10 bytes", got)
		}
		if len(got.Tags) != 1 || got.Tags[0] != "versioned_data" {
			t.Errorf("Tags = %v, want [versioned_data]", got.Tags)
		}

		pv, err := db.FindVersion(ctx, "p-1", 1)
		if err != nil {
			t.Fatalf("FindVersion() error = %v", err)
		}
		if pv == nil {
			t.Fatal("FindVersion() returned nil")
		}
		if pv.Author != "alice" || pv.Device != "10.0.0.1" || pv.Size != 10 {
			t.Errorf("version = %+v", pv)
		}
		if len(pv.Changes.Added) != 1 || pv.Changes.Added[0].Path != "data.gpkg" {
			t.Errorf("Changes = %+v, want one added data.gpkg", pv.Changes)
		}
		if pv.Fingerprint != history.Fingerprint(files) {
			t.Errorf("Fingerprint = %s, want %s", pv.Fingerprint, history.Fingerprint(files))
		}
	})

	t.Run("keeps diff links", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		p := newTestProject(t, db, "p-1", "roads")

		updated, v := nextVersion(p, files)
		if err := db.CommitVersion(ctx, updated, v); err != nil {
			t.Fatalf("CommitVersion() v1 error = %v", err)
		}

		patched := []history.FileEntry{{
			Path: "data.gpkg", Checksum: "c2", Size: 12, Location: "v2/data.gpkg", Version: 2,
			Diff: &history.DiffLink{Checksum: "d2", Size: 4, Location: "v2/x-diff/data.gpkg", BaseChecksum: "c1"},
		}}
		updated2, v2 := nextVersion(updated, patched)
		if err := db.CommitVersion(ctx, updated2, v2); err != nil {
			t.Fatalf("CommitVersion() v2 error = %v", err)
		}

		pv, err := db.FindVersion(ctx, "p-1", 2)
		if err != nil {
			t.Fatalf("FindVersion() error = %v", err)
		}
		d := pv.Files[0].Diff
		if d == nil || d.BaseChecksum != "c1" || d.Location != "v2/x-diff/data.gpkg" {
			t.Errorf("Diff = %+v, want link to c1", d)
		}
	})

	t.Run("stale project is a conflict", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		p := newTestProject(t, db, "p-1", "roads")

		updated, v := nextVersion(p, files)
		if err := db.CommitVersion(ctx, updated, v); err != nil {
			t.Fatalf("first CommitVersion() error = %v", err)
		}

		// a second writer built on v0 as well
		_, stale := nextVersion(p, files)
		staleProject := *updated
		err := db.CommitVersion(ctx, &staleProject, stale)
		if !errors.Is(err, history.ErrVersionConflict) {
			t.Fatalf("CommitVersion() error = %v, want ErrVersionConflict", err)
		}

		versions, err := db.ListVersions(ctx, "p-1")
		if err != nil {
			t.Fatalf("ListVersions() error = %v", err)
		}
		if len(versions) != 1 {
			t.Errorf("len(versions) = %d, want 1", len(versions))
		}
	})

	t.Run("mismatched records are rejected", func(t *testing.T) {
		db := newTestDB(t)
		p := newTestProject(t, db, "p-1", "roads")

		updated, v := nextVersion(p, files)
		v.Version = 5
		if err := db.CommitVersion(context.Background(), updated, v); err == nil {
			t.Error("CommitVersion() expected error for mismatched version")
		}
	})
}

func TestSQLiteDatabase_ListVersionsOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := newTestProject(t, db, "p-1", "roads")

	for i := 0; i < 3; i++ {
		updated, v := nextVersion(p, []history.FileEntry{})
		if err := db.CommitVersion(ctx, updated, v); err != nil {
			t.Fatalf("CommitVersion() %d error = %v", i+1, err)
		}
		p = updated
	}

	versions, err := db.ListVersions(ctx, "p-1")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	for i, v := range versions {
		if v.Version != history.VersionID(i+1) {
			t.Errorf("versions[%d] = %s, want v%d", i, v.Version, i+1)
		}
	}
}

func TestSQLiteDatabase_DeleteProject(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := newTestProject(t, db, "p-1", "roads")
	updated, v := nextVersion(p, []history.FileEntry{})
	if err := db.CommitVersion(ctx, updated, v); err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}

	if err := db.DeleteProject(ctx, "p-1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	got, err := db.FindProjectByID(ctx, "p-1")
	if err != nil || got != nil {
		t.Errorf("FindProjectByID() after delete = %v, %v; want nil, nil", got, err)
	}
	versions, err := db.ListVersions(ctx, "p-1")
	if err != nil || len(versions) != 0 {
		t.Errorf("ListVersions() after delete = %d versions, %v; want 0, nil", len(versions), err)
	}

	// name can be reused
	newTestProject(t, db, "p-2", "roads")
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.CreateOperation(ctx, "push", "roads /data/roads", testTime)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	second, err := db.CreateOperation(ctx, "project create", "water", testTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("IDs not increasing: %d then %d", first.ID, second.ID)
	}

	if err := db.FinishOperation(ctx, first.ID, "success", testTime.Add(2*time.Minute)); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := db.ListOperations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}
	if ops[0].ID != second.ID {
		t.Errorf("ops[0].ID = %d, want newest %d", ops[0].ID, second.ID)
	}
	if ops[0].Status != "running" || ops[0].FinishedAt.Valid {
		t.Errorf("unfinished op = %+v", ops[0])
	}
	if ops[1].Status != "success" || !ops[1].FinishedAt.Valid {
		t.Errorf("finished op = %+v", ops[1])
	}

	limited, err := db.ListOperations(ctx, 1)
	if err != nil {
		t.Fatalf("ListOperations(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(ListOperations(1)) = %d, want 1", len(limited))
	}
}

func TestSQLiteDatabase_FileBackedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "svc.db")
	db, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer db.Close()

	if err := db.CheckMigrations(); err == nil {
		t.Fatal("CheckMigrations() expected error before migrating")
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after MigrateUp error = %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	backup := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(backup); err != nil {
		t.Errorf("BackupTo() error = %v", err)
	}
}
