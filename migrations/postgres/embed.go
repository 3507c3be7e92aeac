// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contains the schema migrations, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
