// Package migrations embeds the Postgres schema for the direct store driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
