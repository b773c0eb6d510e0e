// generate_schema migrates an in-memory catalog and writes the resulting
// projects, project_versions and operations schema to
// internal/database/schema.sql, where it serves as a reference for readers.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"verhist/internal/database"
	"verhist/internal/database/migrations"
)

// catalogTables must all exist after migrating; a missing one means a
// migration was dropped or renamed.
var catalogTables = []string{"projects", "project_versions", "operations"}

const schemaHeader = `-- verhist catalog schema: projects, their version history and the
-- operation log. Generated from internal/database/migrations/files/*.sql.
-- Do not edit. Run 'go generate ./internal/database' after adding a migration.

`

func main() {
	outPath := filepath.Join("internal", "database", "schema.sql")
	if err := run(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote catalog schema to %s\n", outPath)
}

func run(outPath string) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}

	schema, err := catalogSchema(db)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, []byte(schemaHeader+schema), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}

// catalogSchema returns the CREATE statements of every catalog table
// followed by the indexes, skipping SQLite internals and the
// golang-migrate bookkeeping table.
func catalogSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT type, name, sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name
	`)
	if err != nil {
		return "", fmt.Errorf("reading catalog schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	seen := make(map[string]bool)
	for rows.Next() {
		var kind, name, stmt string
		if err := rows.Scan(&kind, &name, &stmt); err != nil {
			return "", fmt.Errorf("reading catalog schema: %w", err)
		}
		if kind == "table" {
			seen[name] = true
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading catalog schema: %w", err)
	}

	for _, table := range catalogTables {
		if !seen[table] {
			return "", fmt.Errorf("migrations did not create table %s", table)
		}
	}
	return b.String(), nil
}
