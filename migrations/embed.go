// Package migrations embeds the Postgres schema so the server can migrate
// itself at startup regardless of working directory.
package migrations

import "embed"

// FS holds the ordered .sql files applied by storage.RunMigrations.
//
//go:embed *.sql
var FS embed.FS
