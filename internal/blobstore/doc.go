// Package blobstore talks to a Firebase-storage style object store.
//
// Recordings are streamed through resumable upload sessions: Start opens a
// session, UploadChunk sends each chunk at the session's current byte offset,
// and Finalize resolves a durable download reference once the store reports
// the object as final. Each Session owns its offset and allows at most one
// request in flight. The Client also exposes monolithic uploads (the fallback
// path), short-lived staging objects for transcription, deletes, and a
// reachability probe.
package blobstore
