// Package migrations содержит SQL миграции Payment Service (goose)
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
