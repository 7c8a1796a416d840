// Package dispatcher transcribes recording chunks in the background.
//
// Each recording session gets its own lane: a FIFO of chunks drained by at
// most one worker goroutine, so at most one transcription call is in flight
// per session while independent sessions proceed in parallel. Fragments land
// in a sparse transcript accumulator keyed by chunk index. When the final
// chunk (or a completion-only marker) has been processed, the lane generates
// the summary once, completes the meeting record, and releases anyone
// blocked in Wait.
package dispatcher
