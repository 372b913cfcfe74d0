package db

import "embed"

// MigrationFS holds the numbered up/down SQL files applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
