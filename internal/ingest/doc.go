// Package ingest exposes the local HTTP API used by the browser recorder.
//
// GET /api/record?id=&title=&name= upgrades to a websocket (fileName is an
// alias for name). Binary frames carry media from a
// MediaRecorder, a "stop" text frame ends the meeting, and the server streams
// progress frames followed by one result frame. Each connection is one
// recording session. GET /api/health and the read-only /api/meetings
// endpoints round out the surface. When paths.api_token is set every route
// requires it as a bearer token (or a token query parameter, since browsers
// cannot set headers on websocket requests).
package ingest
