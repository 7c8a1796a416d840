package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external service error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// SessionInitError reports that a resumable upload session could not be
// opened. It is never fatal for a recording: the session falls back to a
// monolithic upload at stop time.
type SessionInitError struct {
	Name string
	Err  error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("upload session init %q: %v", e.Name, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// ErrorKind implements the classification contract used by the meeting store.
func (e *SessionInitError) ErrorKind() string { return "session_init" }

// ChunkUploadError reports a chunk request that was not accepted by the blob
// store. The session offset is unchanged; the same chunk must be retried.
type ChunkUploadError struct {
	Index  int
	Offset int64
	Status int
	Err    error
}

func (e *ChunkUploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunk %d upload at offset %d: status %d: %v", e.Index, e.Offset, e.Status, e.Err)
	}
	return fmt.Sprintf("chunk %d upload at offset %d: status %d", e.Index, e.Offset, e.Status)
}

func (e *ChunkUploadError) Unwrap() error { return e.Err }

func (e *ChunkUploadError) ErrorKind() string { return "chunk_upload" }

// HTTPStatus exposes the response status for retry classification.
func (e *ChunkUploadError) HTTPStatus() int { return e.Status }

// FinalizeError reports that a finalized object could not be resolved into a
// durable retrieval reference.
type FinalizeError struct {
	Name string
	Err  error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize %q: %v", e.Name, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

func (e *FinalizeError) ErrorKind() string { return "finalize" }

// TranscriptionError reports a chunk whose transcription was abandoned.
type TranscriptionError struct {
	SessionID  string
	ChunkIndex int
	Err        error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe session %s chunk %d: %v", e.SessionID, e.ChunkIndex, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

func (e *TranscriptionError) ErrorKind() string { return "transcription" }

// SummaryError reports a failed summary generation. Records still complete.
type SummaryError struct {
	SessionID string
	Err       error
}

func (e *SummaryError) Error() string {
	return fmt.Sprintf("summarize session %s: %v", e.SessionID, e.Err)
}

func (e *SummaryError) Unwrap() error { return e.Err }

func (e *SummaryError) ErrorKind() string { return "summary" }

// FallbackUploadError is the last rung of the upload ladder. LocalPath names
// the exported copy of the artifact offered to the user, when one was written.
type FallbackUploadError struct {
	Name      string
	Size      int64
	LocalPath string
	Err       error
}

func (e *FallbackUploadError) Error() string {
	if e.LocalPath != "" {
		return fmt.Sprintf("fallback upload %q (%d bytes) failed, local copy saved to %s: %v", e.Name, e.Size, e.LocalPath, e.Err)
	}
	return fmt.Sprintf("fallback upload %q (%d bytes) failed: %v", e.Name, e.Size, e.Err)
}

func (e *FallbackUploadError) Unwrap() error { return e.Err }

func (e *FallbackUploadError) ErrorKind() string { return "fallback_upload" }

// ErrorKind returns the classification of err, or "unknown".
func ErrorKind(err error) string {
	var classifier interface{ ErrorKind() string }
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
