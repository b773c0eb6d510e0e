package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	err := MigrateUp(db)
	if err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Verify tables were created
	tables := []string{"projects", "project_versions", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Fresh database should need migration
	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Error("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	// Error should mention needing migration
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Status should be OK now
	err := CheckDBMigrationStatus(db)
	if err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Run migration twice
	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	// Status should still be OK
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// A version for a non-existent project must fail due to the FK constraint
	_, err := db.Exec(`
		INSERT INTO project_versions (project_id, version, created_at, changes, files, size, fingerprint)
		VALUES ('missing-project', 1, datetime('now'), '{}', '[]', 0, 'fp')
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_ProjectNameUniquePerWorkspace(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO projects (id, workspace, name, created_at, updated_at) VALUES (?, ?, ?, datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert, "p-1", "ws", "roads"); err != nil {
		t.Fatalf("Failed to insert first project: %v", err)
	}
	if _, err := db.Exec(insert, "p-2", "other-ws", "roads"); err != nil {
		t.Errorf("Same name in another workspace should be allowed: %v", err)
	}
	if _, err := db.Exec(insert, "p-3", "ws", "roads"); err == nil {
		t.Error("Expected unique constraint violation for duplicate workspace/name, but insert succeeded")
	}
}

func TestSchema_VersionPrimaryKey(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO projects (id, workspace, name, created_at, updated_at) VALUES ('p-1', 'ws', 'roads', datetime('now'), datetime('now'))`); err != nil {
		t.Fatalf("Failed to insert project: %v", err)
	}
	insert := `INSERT INTO project_versions (project_id, version, created_at, changes, files, size, fingerprint) VALUES ('p-1', 1, datetime('now'), '{}', '[]', 0, 'fp')`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("Failed to insert version: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("Expected primary key violation for duplicate version, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// each connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}

func TestGetStatus(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	st, err := GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Current != 0 || st.Latest == 0 || st.Pending() != st.Latest {
		t.Errorf("fresh GetStatus() = %+v, want current 0 and all migrations pending", st)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	st, err = GetStatus(db)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Current != st.Latest || st.Pending() != 0 || st.Dirty {
		t.Errorf("migrated GetStatus() = %+v, want current == latest", st)
	}
}
