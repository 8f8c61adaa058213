// Package database embeds the goose SQL migrations, the same pattern the
// teacher uses in its own internal/database/migrations.go: migrations
// ship inside the binary instead of as loose files beside it.
package database

import "embed"

//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS
