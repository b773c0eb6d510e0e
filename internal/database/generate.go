package database

import _ "embed"

// This file documents code generation for the database package.
//
// To regenerate schema.sql from the migrations:
//   go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"

// Schema is the current database schema, generated from the migrations.
//
//go:embed schema.sql
var Schema string
