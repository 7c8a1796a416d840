// Package app assembles the recording pipeline from configuration and runs
// the long-lived ingest service.
//
// New wires the blob store client, meeting store, transcription dispatcher,
// summarizer, notifier, and recording manager into one App. Serve owns the
// process lifecycle for `meetscribe serve`: per-run log files, log and spool
// retention, preflight reporting, the ingest API, and graceful finalization of
// in-flight recordings on shutdown.
package app
