// Package migrations embeds the graph store's SQL schema files so they ship
// inside the binary and apply regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem, containing all .sql files in
// this directory in apply order (0001_*.sql, 0002_*.sql, ...).
//
//go:embed *.sql
var FS embed.FS
