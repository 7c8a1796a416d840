// Package main hosts the meetscribe CLI entrypoint and command graph.
//
// The Cobra command tree records meetings from files or pipes, runs the
// ingest service for browser recorders, inspects stored meetings, and
// scaffolds configuration. Configuration and dotenv resolution live in
// commandContext so subcommands only deal with presentation.
package main
