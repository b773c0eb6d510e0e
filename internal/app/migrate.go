package app

import (
	"fmt"

	"verhist/internal/config"
	"verhist/internal/database"
	"verhist/internal/database/migrations"
)

// Migrate brings the configured database to the latest schema and returns
// the resulting status. It runs without an App since NewApp refuses an
// outdated schema.
func Migrate(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ServiceID)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		return migrations.Status{}, err
	}
	return db.MigrationStatus()
}

// MigrationStatus reports the schema version of the configured database
// without changing it.
func MigrationStatus(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ServiceID)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	return db.MigrationStatus()
}
