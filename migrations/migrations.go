// Package migrations embeds the schema and seed SQL applied by cmd/migrate.
package migrations

import "embed"

// FS holds NNN_name.up.sql / NNN_name.down.sql pairs and seed/NNN_name.sql files
//
//go:embed *.sql seed/*.sql
var FS embed.FS
