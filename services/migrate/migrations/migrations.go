// Package migrations embeds the Postgres schema, applied in order by
// services/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
