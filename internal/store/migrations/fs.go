// Package migrations embeds the SQL migration files for the client database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
