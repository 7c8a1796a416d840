// Package recording drives a live meeting recording from capture to a
// completed, transcribed meeting record.
//
// A Session composes the pipeline explicitly: its capture source appends
// fragments to a chunk accumulator, a driver goroutine flushes the accumulator
// on every tick, writes each chunk to the local spool, uploads it through the
// resumable blob store session, and hands it to the transcription dispatcher.
// Stop runs the completion path: final flush, finalize (or monolithic upload
// of the spool when the resumable session is unavailable), metadata
// persistence, and waiting for the dispatcher to complete the record. When
// every upload path fails the spool is exported to the download directory so
// the recording is never lost.
//
// Manager runs any number of independent sessions concurrently.
package recording
