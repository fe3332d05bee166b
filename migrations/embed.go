// Package migrations embeds the SQL schema migrations into the binary.
//
// Pass FS to database.DB.Migrate.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
