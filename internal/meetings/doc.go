// Package meetings persists meeting records in SQLite and guards their
// lifecycle.
//
// A record moves pending → recording → processing → completed or failed.
// Completed and failed are terminal: every write is conditioned on the record
// still being active, so late pipeline callbacks cannot resurrect a finished
// meeting. Records carry the upload metadata (file name, size, duration,
// download reference), the accumulated transcript with per-chunk status, the
// summary, and for failures the error message and local-save path.
//
// Schema changes bump schemaVersion in schema.go; users delete the database
// to adopt the new schema.
package meetings
