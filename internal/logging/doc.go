// Package logging assembles structured slog loggers and formatting helpers used
// across the recording pipeline.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with session IDs, chunk indices, and correlation IDs. The console
// handler promotes the component and session to a line prefix. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
