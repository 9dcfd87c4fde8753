// Package migrations embeds the SQL migrations of the summary schema.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
