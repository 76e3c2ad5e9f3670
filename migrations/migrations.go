// Package migrations embeds the Postgres schema applied by "his-server
// migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
