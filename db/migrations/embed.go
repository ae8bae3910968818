// Package dbmigrations exposes embedded SQL migrations for Foggle binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Foggle binaries.
//
//go:embed *.sql
var Files embed.FS
