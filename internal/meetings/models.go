package meetings

import (
	"time"

	"meetscribe/internal/transcript"
)

// Status is the lifecycle state of a meeting record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transcript status values.
const (
	TranscriptPending    = "pending"
	TranscriptProcessing = "processing"
	TranscriptCompleted  = "completed"
	TranscriptPartial    = "partial"
	TranscriptDisabled   = "disabled"
)

// Transcript is the transcript sub-record of a meeting.
type Transcript struct {
	Status       string
	Text         string
	Words        []transcript.Word
	Chunks       []transcript.ChunkStatus
	Language     string
	Summary      string
	SummaryError string
}

// RecordingInfo is the final upload metadata saved after finalization.
type RecordingInfo struct {
	FileName        string
	FileSize        int64
	DurationSeconds float64
	DownloadURL     string
	ContentType     string
}

// Failure describes why a meeting failed.
type Failure struct {
	Message   string
	Kind      string
	LocalPath string
}

// Meeting is one persisted recording session.
type Meeting struct {
	ID              string
	Title           string
	Status          Status
	FileName        string
	FileSize        int64
	DurationSeconds float64
	DownloadURL     string
	ContentType     string
	LocalPath       string
	ErrorMessage    string
	ErrorKind       string
	Transcript      Transcript
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}
