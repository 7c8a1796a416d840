package meetings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetscribe/internal/services"
)

// ErrTerminal is returned when a write targets a completed or failed meeting.
var ErrTerminal = errors.New("meeting is in a terminal state")

const meetingColumns = "id, title, status, file_name, file_size, duration_seconds, download_url, content_type, local_path, error_message, error_kind, transcript_status, transcript_text, transcript_words_json, transcript_chunks_json, transcript_language, summary, summary_error, created_at, updated_at, completed_at"

const activeGuard = " AND status NOT IN ('completed', 'failed')"

// Create inserts a pending meeting.
func (s *Store) Create(ctx context.Context, id, title string) (*Meeting, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, "meetings", "create", "meeting id required", nil)
	}
	now := timestamp(time.Now())
	if _, err := s.exec(ctx,
		`INSERT INTO meetings (id, title, status, transcript_status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, nullableString(title), StatusPending, TranscriptPending, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert meeting: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a meeting by id. A missing meeting returns nil without error.
func (s *Store) Get(ctx context.Context, id string) (*Meeting, error) {
	row := s.db.QueryRowContext(orBackground(ctx), `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return m, nil
}

// List returns meetings newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(orBackground(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Transition moves an active meeting to status. Terminal statuses must go
// through Complete or Fail.
func (s *Store) Transition(ctx context.Context, id string, status Status) error {
	if status.Terminal() {
		return services.Wrap(services.ErrValidation, "meetings", "transition", "use Complete or Fail for terminal statuses", nil)
	}
	return s.updateActive(ctx, id, "transition",
		`UPDATE meetings SET status = ?, updated_at = ? WHERE id = ?`+activeGuard,
		status, timestamp(time.Now()), id,
	)
}

// SaveRecording persists the final upload metadata.
func (s *Store) SaveRecording(ctx context.Context, id string, info RecordingInfo) error {
	return s.updateActive(ctx, id, "save recording",
		`UPDATE meetings
         SET file_name = ?, file_size = ?, duration_seconds = ?, download_url = ?, content_type = ?, updated_at = ?
         WHERE id = ?`+activeGuard,
		nullableString(info.FileName), info.FileSize, info.DurationSeconds,
		nullableString(info.DownloadURL), nullableString(info.ContentType),
		timestamp(time.Now()), id,
	)
}

// SaveTranscript persists transcript progress without changing the meeting status.
func (s *Store) SaveTranscript(ctx context.Context, id string, t Transcript) error {
	args, err := transcriptArgs(t)
	if err != nil {
		return err
	}
	args = append(args, timestamp(time.Now()), id)
	return s.updateActive(ctx, id, "save transcript",
		`UPDATE meetings
         SET transcript_status = ?, transcript_text = ?, transcript_words_json = ?, transcript_chunks_json = ?,
             transcript_language = ?, summary = ?, summary_error = ?, updated_at = ?
         WHERE id = ?`+activeGuard,
		args...,
	)
}

// Complete stores the final transcript and marks the meeting completed.
func (s *Store) Complete(ctx context.Context, id string, t Transcript) error {
	args, err := transcriptArgs(t)
	if err != nil {
		return err
	}
	now := timestamp(time.Now())
	args = append([]any{StatusCompleted}, args...)
	args = append(args, now, now, id)
	return s.updateActive(ctx, id, "complete",
		`UPDATE meetings
         SET status = ?, transcript_status = ?, transcript_text = ?, transcript_words_json = ?, transcript_chunks_json = ?,
             transcript_language = ?, summary = ?, summary_error = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`+activeGuard,
		args...,
	)
}

// Fail marks the meeting failed with the error message and local-save path.
func (s *Store) Fail(ctx context.Context, id string, failure Failure) error {
	now := timestamp(time.Now())
	return s.updateActive(ctx, id, "fail",
		`UPDATE meetings
         SET status = ?, error_message = ?, error_kind = ?, local_path = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`+activeGuard,
		StatusFailed, nullableString(failure.Message), nullableString(failure.Kind),
		nullableString(failure.LocalPath), now, now, id,
	)
}

func (s *Store) updateActive(ctx context.Context, id, op, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s meeting %s: %w", op, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s meeting %s: rows affected: %w", op, id, err)
	}
	if affected > 0 {
		return nil
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return services.Wrap(services.ErrNotFound, "meetings", op, "meeting "+id, nil)
	}
	return fmt.Errorf("%s meeting %s (%s): %w", op, id, existing.Status, ErrTerminal)
}

func transcriptArgs(t Transcript) ([]any, error) {
	words, err := marshalOptional(t.Words, len(t.Words))
	if err != nil {
		return nil, fmt.Errorf("marshal words: %w", err)
	}
	chunks, err := marshalOptional(t.Chunks, len(t.Chunks))
	if err != nil {
		return nil, fmt.Errorf("marshal chunks: %w", err)
	}
	status := t.Status
	if status == "" {
		status = TranscriptPending
	}
	return []any{
		status,
		nullableString(t.Text),
		words,
		chunks,
		nullableString(t.Language),
		nullableString(t.Summary),
		nullableString(t.SummaryError),
	}, nil
}

func marshalOptional(v any, n int) (any, error) {
	if n == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanMeeting(scanner interface{ Scan(dest ...any) error }) (*Meeting, error) {
	var (
		m                Meeting
		status           string
		title            sql.NullString
		fileName         sql.NullString
		downloadURL      sql.NullString
		contentType      sql.NullString
		localPath        sql.NullString
		errorMessage     sql.NullString
		errorKind        sql.NullString
		transcriptStatus sql.NullString
		transcriptText   sql.NullString
		wordsJSON        sql.NullString
		chunksJSON       sql.NullString
		language         sql.NullString
		summary          sql.NullString
		summaryError     sql.NullString
		createdRaw       string
		updatedRaw       string
		completedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&m.ID, &title, &status, &fileName, &m.FileSize, &m.DurationSeconds, &downloadURL, &contentType,
		&localPath, &errorMessage, &errorKind, &transcriptStatus, &transcriptText, &wordsJSON, &chunksJSON,
		&language, &summary, &summaryError, &createdRaw, &updatedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}
	m.Title = title.String
	m.Status = Status(status)
	m.FileName = fileName.String
	m.DownloadURL = downloadURL.String
	m.ContentType = contentType.String
	m.LocalPath = localPath.String
	m.ErrorMessage = errorMessage.String
	m.ErrorKind = errorKind.String
	m.Transcript = Transcript{
		Status:       transcriptStatus.String,
		Text:         transcriptText.String,
		Language:     language.String,
		Summary:      summary.String,
		SummaryError: summaryError.String,
	}
	if wordsJSON.Valid && wordsJSON.String != "" {
		if err := json.Unmarshal([]byte(wordsJSON.String), &m.Transcript.Words); err != nil {
			return nil, fmt.Errorf("decode words: %w", err)
		}
	}
	if chunksJSON.Valid && chunksJSON.String != "" {
		if err := json.Unmarshal([]byte(chunksJSON.String), &m.Transcript.Chunks); err != nil {
			return nil, fmt.Errorf("decode chunks: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		m.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		m.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			m.CompletedAt = &completed
		}
	}
	return &m, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty time")
	}
	return time.Parse(time.RFC3339Nano, value)
}
