package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/chunker"
	"meetscribe/internal/logging"
	"meetscribe/internal/meetings"
	"meetscribe/internal/notifications"
	"meetscribe/internal/retry"
	"meetscribe/internal/services"
)

const persistTimeout = 30 * time.Second

// Stop ends capture and runs the completion path. It returns
// *services.FallbackUploadError when no upload path succeeded; the recording
// is then saved under the download directory and the meeting is failed.
func (s *Session) Stop(ctx context.Context) (Result, error) {
	if err := s.transition(StateActive, StateFinalizing); err != nil {
		return Result{}, err
	}
	s.logger.Info("stopping recording")
	if err := s.m.records.Transition(ctx, s.id, meetings.StatusProcessing); err != nil {
		s.logger.Warn("mark meeting processing failed", logging.Error(err))
	}

	s.halt(false)
	last, ok := s.acc.FlushLast()
	if !ok {
		last = chunker.Chunk{Data: []byte{}, IsLast: true}
	}
	s.spoolChunk(last)
	duration := time.Since(s.startedAt)

	ref, monolithic, err := s.commit(ctx, last)
	if err != nil {
		return Result{}, s.saveLocal(ctx, err)
	}
	s.logger.Info("recording uploaded",
		logging.String("object", ref.Name),
		logging.Int64("bytes", ref.Size),
		logging.Bool("monolithic", monolithic),
	)
	s.publishProgress()

	s.saveMetadata(ctx, ref, duration)

	if last.Len() > 0 {
		err = s.enqueue(last, true)
	} else {
		err = s.m.transcripts.MarkCompleteOnly(s.id)
	}
	var outcome Result
	if err != nil {
		// Without a dispatcher lane nothing else will complete the record.
		t := meetings.Transcript{Status: meetings.TranscriptDisabled}
		if cerr := s.m.records.Complete(ctx, s.id, t); cerr != nil {
			s.finish(StateFailed)
			_ = s.spool.Remove()
			return Result{}, fmt.Errorf("complete meeting: %w", cerr)
		}
		outcome.Transcript = t
	} else {
		transcribed, werr := s.m.transcripts.Wait(ctx, s.id)
		if werr != nil {
			return Result{}, s.abandonTranscription(ctx, ref, werr)
		}
		s.m.transcripts.Forget(s.id)
		outcome.Transcript = transcribed.Transcript
		outcome.Gaps = transcribed.Gaps
	}

	s.finish(StateCompleted)
	if err := s.spool.Remove(); err != nil {
		s.logger.Debug("spool removal failed", logging.Error(err))
	}
	outcome.SessionID = s.id
	outcome.ObjectName = s.objectName
	outcome.Reference = ref
	outcome.Size = ref.Size
	outcome.Duration = duration
	outcome.Monolithic = monolithic

	s.notify(ctx, notifications.EventRecordingCompleted, notifications.Payload{
		"title":            s.displayTitle(),
		"transcriptStatus": outcome.Transcript.Status,
		"downloadURL":      ref.URL,
	})
	s.logger.Info("recording completed",
		logging.String("transcript_status", outcome.Transcript.Status),
		logging.Int("gaps", len(outcome.Gaps)),
		logging.Duration("duration", duration),
	)
	return outcome, nil
}

// commit uploads the final chunk and resolves the durable reference. When the
// resumable path is unavailable or fails, the spooled artifact is uploaded in
// a single request.
func (s *Session) commit(ctx context.Context, last chunker.Chunk) (blobstore.Reference, bool, error) {
	if s.resumable() {
		err := s.uploadChunk(ctx, last, true)
		if err == nil {
			ref, ferr := s.upload.Finalize(ctx)
			if ferr == nil {
				return ref, false, nil
			}
			err = ferr
		}
		s.degrade(err)
	}
	ref, err := s.uploadMonolithic(ctx)
	return ref, true, err
}

func (s *Session) uploadMonolithic(ctx context.Context) (blobstore.Reference, error) {
	s.mu.Lock()
	spoolErr := s.spoolErr
	s.mu.Unlock()
	if spoolErr != nil {
		return blobstore.Reference{}, fmt.Errorf("spool incomplete: %w", spoolErr)
	}
	size := s.spool.Size()
	s.logger.Info("uploading recording in one piece", logging.Int64("bytes", size))
	policy := s.m.uploadPolicy.WithAttemptTimeout(s.m.uploadTimeout)
	policy = policy.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		s.logger.Info("retrying monolithic upload",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	})
	return retry.DoValue(ctx, policy, func(ctx context.Context) (blobstore.Reference, error) {
		reader, err := s.spool.Reader()
		if err != nil {
			return blobstore.Reference{}, retry.Permanent(err)
		}
		defer reader.Close()
		return s.m.storage.Upload(ctx, s.objectName, s.contentType, reader, size)
	})
}

func (s *Session) saveMetadata(ctx context.Context, ref blobstore.Reference, duration time.Duration) {
	info := meetings.RecordingInfo{
		FileName:        s.fileName,
		FileSize:        ref.Size,
		DurationSeconds: duration.Seconds(),
		DownloadURL:     ref.URL,
		ContentType:     s.contentType,
	}
	policy := s.m.metadataPolicy.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		s.logger.Info("retrying metadata save",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	})
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return s.m.records.SaveRecording(ctx, s.id, info)
	})
	if err != nil {
		logging.ErrorWithContext(s.logger, "recording metadata not saved", "metadata_save_failed",
			logging.String(logging.FieldErrorHint, "the object is uploaded; its reference is in this log entry"),
			logging.String(logging.FieldImpact, "meeting record lacks download metadata"),
			logging.String("download_url", ref.URL),
			logging.Error(err),
		)
	}
}

// saveLocal is the last rung of the upload ladder: the spool is exported to
// the download directory and the meeting fails with the local path.
func (s *Session) saveLocal(ctx context.Context, cause error) error {
	size := s.spool.Size()
	path, exportErr := s.spool.Export(s.m.cfg.Paths.DownloadDir, s.fileName)
	failure := &services.FallbackUploadError{Name: s.objectName, Size: size, LocalPath: path, Err: cause}
	if exportErr != nil {
		failure.LocalPath = ""
		failure.Err = errors.Join(cause, fmt.Errorf("local save: %w", exportErr))
	}

	s.m.transcripts.Cancel(s.id)
	s.m.transcripts.Forget(s.id)
	if err := s.m.records.Fail(ctx, s.id, meetings.Failure{
		Message:   failure.Error(),
		Kind:      services.ErrorKind(failure),
		LocalPath: failure.LocalPath,
	}); err != nil {
		s.logger.Warn("persist failure failed", logging.Error(err))
	}
	s.finish(StateFailed)

	if exportErr == nil {
		if err := s.spool.Remove(); err != nil {
			s.logger.Debug("spool removal failed", logging.Error(err))
		}
	} else {
		_ = s.spool.Close()
	}

	logging.ErrorWithContext(s.logger, "recording upload failed", "upload_failed",
		logging.String(logging.FieldErrorHint, "upload the saved file manually"),
		logging.String(logging.FieldImpact, "meeting not transcribed"),
		logging.String("local_path", failure.LocalPath),
		logging.Int64("bytes", size),
		logging.Alert("recording_upload_failed"),
		logging.Error(failure),
	)
	s.notify(ctx, notifications.EventRecordingFailed, notifications.Payload{
		"title":     s.displayTitle(),
		"error":     cause.Error(),
		"localPath": failure.LocalPath,
	})
	return failure
}

// abandonTranscription ends a session whose upload succeeded but whose
// transcription could not be awaited. The lane is cancelled so it cannot
// complete the record later, and the meeting fails with the reference intact.
func (s *Session) abandonTranscription(ctx context.Context, ref blobstore.Reference, cause error) error {
	s.m.transcripts.Cancel(s.id)
	s.m.transcripts.Forget(s.id)

	err := fmt.Errorf("await transcription: %w", cause)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if ferr := s.m.records.Fail(persistCtx, s.id, meetings.Failure{
		Message: err.Error(),
		Kind:    "transcription",
	}); ferr != nil {
		s.logger.Warn("persist failure failed", logging.Error(ferr))
	}
	s.finish(StateFailed)
	if rerr := s.spool.Remove(); rerr != nil {
		s.logger.Debug("spool removal failed", logging.Error(rerr))
	}

	logging.ErrorWithContext(s.logger, "transcription not awaited", "transcription_interrupted",
		logging.String(logging.FieldErrorHint, "the recording is uploaded; retranscribe it from the download url"),
		logging.String(logging.FieldImpact, "meeting has no transcript"),
		logging.String("download_url", ref.URL),
		logging.Error(err),
	)
	s.notify(persistCtx, notifications.EventRecordingFailed, notifications.Payload{
		"title": s.displayTitle(),
		"error": err.Error(),
	})
	return err
}

func (s *Session) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := s.m.notifier.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check ntfy_topic"),
			logging.String(logging.FieldImpact, "no push notification"),
			logging.Error(err),
		)
	}
}

func (s *Session) displayTitle() string {
	if s.title != "" {
		return s.title
	}
	return s.fileName
}
