package migrations

import "github.com/uptrace/bun/migrate"

// Migrations collects every schema migration registered in this package.
var Migrations = migrate.NewMigrations()
