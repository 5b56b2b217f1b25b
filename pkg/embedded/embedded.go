// Package embedded provides assets compiled into the Go binary.
package embedded

import (
	"embed"
)

// Schemas contains the SQLite schema files, one per database:
//   - history_schema.sql - daily price bars
//   - results_schema.sql - persisted backtest runs
//
//go:embed schemas/*.sql
var Schemas embed.FS
