// Package migrations содержит SQL миграции Order Service (goose)
package migrations

import "embed"

// FS встроенные миграции, чтобы бинарник не зависел от рабочей директории
//
//go:embed *.sql
var FS embed.FS
