package dispatcher

import (
	"context"
	"fmt"
	"time"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/chunker"
	"meetscribe/internal/logging"
	"meetscribe/internal/meetings"
	"meetscribe/internal/retry"
	"meetscribe/internal/services"
	"meetscribe/internal/transcribe"
	"meetscribe/internal/transcript"
)

const cleanupTimeout = 30 * time.Second

func (d *Dispatcher) process(ctx context.Context, l *lane, chunk chunker.Chunk) {
	if d.opts.Transcriber == nil || chunk.Len() == 0 {
		return
	}
	ctx = services.WithChunkIndex(ctx, chunk.Index)
	logger := logging.WithContext(ctx, d.logger)

	stagingName := d.stagingName(l.id, chunk.Index)
	staged := false
	policy := d.opts.Policy.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		logger.Info("retrying chunk transcription",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	})

	started := time.Now()
	fragment, err := retry.DoValue(ctx, policy, func(ctx context.Context) (transcript.Fragment, error) {
		req := transcribe.Request{
			SessionID:   l.id,
			ChunkIndex:  chunk.Index,
			IsLast:      chunk.IsLast,
			ContentType: d.opts.ContentType,
		}
		if d.opts.Inline || d.opts.Stager == nil {
			req.Audio = chunk.Data
		} else {
			ref, err := d.opts.Stager.Stage(ctx, stagingName, d.opts.ContentType, chunk.Data)
			if err != nil {
				return transcript.Fragment{}, fmt.Errorf("stage chunk: %w", err)
			}
			staged = true
			req.StagingURL = ref.URL
		}
		return d.opts.Transcriber.Transcribe(ctx, req)
	})
	if staged {
		d.cleanupStaged(ctx, stagingName)
	}

	if err != nil {
		gapErr := &services.TranscriptionError{SessionID: l.id, ChunkIndex: chunk.Index, Err: err}
		l.acc.MarkFailed(chunk.Index, err.Error())
		l.failed = append(l.failed, chunk.Index)
		logging.WarnWithContext(logger, "chunk transcription abandoned", "transcription_gap",
			logging.String(logging.FieldErrorHint, "transcript will have a gap at this chunk"),
			logging.String(logging.FieldImpact, "partial transcript"),
			logging.String("error_kind", services.ErrorKind(gapErr)),
			logging.Error(gapErr),
		)
	} else {
		l.acc.Set(chunk.Index, fragment)
		logger.Debug("chunk transcribed",
			logging.Int("bytes", chunk.Len()),
			logging.Int("chars", len(fragment.Text)),
			logging.Duration("elapsed", time.Since(started)),
		)
	}

	if d.opts.Records == nil {
		return
	}
	progress := d.snapshot(l, meetings.TranscriptProcessing)
	if err := d.opts.Records.SaveTranscript(ctx, l.id, progress); err != nil {
		logger.Warn("persist transcript progress failed", logging.Error(err))
	}
}

func (d *Dispatcher) cleanupStaged(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := d.opts.Stager.Delete(ctx, name); err != nil {
		logging.WithContext(ctx, d.logger).Debug("staged chunk cleanup failed",
			logging.String("object", name),
			logging.Error(err),
		)
	}
}

func (d *Dispatcher) complete(ctx context.Context, l *lane) Result {
	logger := logging.WithContext(ctx, d.logger)
	result := Result{SessionID: l.id, Gaps: append([]int(nil), l.failed...)}

	status := meetings.TranscriptCompleted
	switch {
	case d.opts.Transcriber == nil:
		status = meetings.TranscriptDisabled
	case len(l.failed) > 0:
		status = meetings.TranscriptPartial
	}
	final := d.snapshot(l, status)

	if d.opts.Summarizer != nil && final.Text != "" {
		summary, err := d.opts.Summarizer.Summarize(ctx, final.Text)
		if err != nil {
			summaryErr := &services.SummaryError{SessionID: l.id, Err: err}
			final.SummaryError = summaryErr.Error()
			logging.WarnWithContext(logger, "summary generation failed", "summary_failed",
				logging.String(logging.FieldErrorHint, "check summary api key and model"),
				logging.String(logging.FieldImpact, "meeting completes without a summary"),
				logging.Error(summaryErr),
			)
		} else {
			final.Summary = summary
		}
	}

	if d.opts.Records != nil {
		if err := d.opts.Records.Complete(ctx, l.id, final); err != nil {
			result.Err = fmt.Errorf("complete meeting %s: %w", l.id, err)
			logging.ErrorWithContext(logger, "meeting completion failed", "complete_failed",
				logging.String(logging.FieldErrorHint, "inspect the meeting store"),
				logging.String(logging.FieldImpact, "meeting stays in processing"),
				logging.Error(err),
			)
		}
	}
	result.Transcript = final
	logger.Info("transcription complete",
		logging.String("transcript_status", status),
		logging.Int("chunks", l.acc.Len()),
		logging.Int("gaps", len(result.Gaps)),
		logging.Bool("summary", final.Summary != ""),
	)
	return result
}

func (d *Dispatcher) snapshot(l *lane, status string) meetings.Transcript {
	return meetings.Transcript{
		Status:   status,
		Text:     l.acc.Text(),
		Words:    l.acc.Words(),
		Chunks:   l.acc.Chunks(),
		Language: l.acc.Language(),
	}
}

func (d *Dispatcher) stagingName(sessionID string, index int) string {
	return fmt.Sprintf("%s%s/%06d", d.opts.StagingPrefix, sessionID, index)
}

var _ Stager = (*blobstore.Client)(nil)
