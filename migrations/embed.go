// Package migrations holds the goose SQL migrations for the Harbor database.
package migrations

import "embed"

//go:embed *.sql
var EmbeddedFS embed.FS
