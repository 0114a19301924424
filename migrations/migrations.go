// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// FS holds the ordered schema files.
//
//go:embed *.sql
var FS embed.FS
