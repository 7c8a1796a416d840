package ingest

import (
	"time"

	"meetscribe/internal/meetings"
	"meetscribe/internal/recording"
)

// Frame types written to the recorder websocket.
const (
	FrameStarted  = "started"
	FrameProgress = "progress"
	FrameResult   = "result"
)

// Frame is a server-to-client websocket message.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`

	Offset   int64 `json:"offset,omitempty"`
	Expected int64 `json:"expected,omitempty"`
	Chunks   int   `json:"chunks,omitempty"`
	Fallback bool  `json:"fallback,omitempty"`

	Status           string `json:"status,omitempty"`
	DownloadURL      string `json:"downloadUrl,omitempty"`
	Size             int64  `json:"size,omitempty"`
	TranscriptStatus string `json:"transcriptStatus,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Gaps             []int  `json:"gaps,omitempty"`
	Error            string `json:"error,omitempty"`
	LocalPath        string `json:"localPath,omitempty"`
}

func progressFrame(id string, p recording.Progress) Frame {
	return Frame{
		Type:      FrameProgress,
		SessionID: id,
		Offset:    p.Offset,
		Expected:  p.Expected,
		Chunks:    p.Chunks,
		Fallback:  p.Fallback,
	}
}

// MeetingResponse is the JSON form of a meeting record.
type MeetingResponse struct {
	ID               string     `json:"id"`
	Title            string     `json:"title,omitempty"`
	Status           string     `json:"status"`
	FileName         string     `json:"fileName,omitempty"`
	FileSize         int64      `json:"fileSize,omitempty"`
	DurationSeconds  float64    `json:"durationSeconds,omitempty"`
	DownloadURL      string     `json:"downloadUrl,omitempty"`
	LocalPath        string     `json:"localPath,omitempty"`
	Error            string     `json:"error,omitempty"`
	TranscriptStatus string     `json:"transcriptStatus"`
	Transcript       string     `json:"transcript,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// MeetingListResponse wraps a list of meetings.
type MeetingListResponse struct {
	Meetings []MeetingResponse `json:"meetings"`
}

// NewMeetingResponse converts a stored meeting into its API form.
func NewMeetingResponse(m *meetings.Meeting) MeetingResponse {
	return MeetingResponse{
		ID:               m.ID,
		Title:            m.Title,
		Status:           string(m.Status),
		FileName:         m.FileName,
		FileSize:         m.FileSize,
		DurationSeconds:  m.DurationSeconds,
		DownloadURL:      m.DownloadURL,
		LocalPath:        m.LocalPath,
		Error:            m.ErrorMessage,
		TranscriptStatus: m.Transcript.Status,
		Transcript:       m.Transcript.Text,
		Summary:          m.Transcript.Summary,
		CreatedAt:        m.CreatedAt,
		CompletedAt:      m.CompletedAt,
	}
}
