// Package migrations содержит встроенную SQL-схему; файлы применяются по порядку имён.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
