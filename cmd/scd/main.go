// scd is the command-line interface for the go-scd merge engine.
//
// Usage:
//
//	scd <command> [flags]
//
// Commands:
//
//	init     Write a starter scd.yaml
//	migrate  Create the projection tables
//	run      Consume change feeds and merge them
//	replay   Feed change rows from a file
//	status   Show projection status
//	version  Show version information
//
// Examples:
//
//	# Write a starter config
//	scd init
//
//	# Create the projection tables
//	scd migrate
//
//	# Start merging
//	scd run
//
//	# Backfill from a dump
//	scd replay customers backfill.ndjson
package main

import (
	"os"

	"github.com/mergetide/go-scd/cli/commands"

	// Register PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
