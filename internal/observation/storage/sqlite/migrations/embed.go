package migrations

import "embed"

// FS contains embedded SQLite migrations for observation storage.
//
//go:embed *.sql
var FS embed.FS
