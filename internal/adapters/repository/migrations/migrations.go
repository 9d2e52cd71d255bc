// Package migrations embeds the goose schema migrations shared by the sqlite
// and postgres backends.
package migrations

import "embed"

// FS holds the *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
