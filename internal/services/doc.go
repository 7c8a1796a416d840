// Package services defines shared utilities consumed by the recording pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, chunk indices, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the pipeline error
//     taxonomy (session init, chunk upload, finalize, transcription, summary,
//     fallback upload) that callers classify with errors.As.
//
// Use these helpers when wiring new pipeline code so error handling and
// observability stay uniform across components.
package services
