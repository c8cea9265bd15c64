// Package migrations embeds the marketplace schema, applied in
// lexicographical file order at startup.
package migrations

import "embed"

// Files holds the embedded SQL migration files.
//
//go:embed *.sql
var Files embed.FS
