// Package migrations embeds the SQL schema migrations so the server binary
// can apply them at startup without a checkout of the source tree.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
