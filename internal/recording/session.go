package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meetscribe/internal/blobstore"
	"meetscribe/internal/capture"
	"meetscribe/internal/chunker"
	"meetscribe/internal/logging"
	"meetscribe/internal/meetings"
	"meetscribe/internal/retry"
	"meetscribe/internal/services"
	"meetscribe/internal/spool"
)

const captureGrace = 5 * time.Second

// Progress reports upload progress. Offset counts bytes accepted by the blob
// store and Expected the bytes captured and flushed so far.
type Progress struct {
	Offset   int64
	Expected int64
	Chunks   int
	// Fallback is set once the recording will be uploaded in one piece.
	Fallback bool
}

// Result summarizes a completed recording.
type Result struct {
	SessionID  string
	ObjectName string
	Reference  blobstore.Reference
	Size       int64
	Duration   time.Duration
	// Monolithic is set when the resumable session was bypassed.
	Monolithic bool
	Transcript meetings.Transcript
	Gaps       []int
}

// Session is one live recording.
type Session struct {
	id          string
	title       string
	fileName    string
	objectName  string
	contentType string

	m          *Manager
	logger     *slog.Logger
	baseCtx    context.Context
	acc        *chunker.Accumulator
	spool      *spool.Spool
	upload     *blobstore.Session
	onProgress func(Progress)
	startedAt  time.Time

	captureCancel context.CancelFunc
	captureDone   chan struct{}
	captureErr    error

	driverCancel context.CancelFunc
	stopTick     chan struct{}
	driverDone   chan struct{}
	haltOnce     sync.Once
	done         chan struct{}
	doneOnce     sync.Once

	mu       sync.Mutex
	state    State
	degraded bool
	chunks   int
	spoolErr error
}

// ID returns the session identifier, which is also the meeting id.
func (s *Session) ID() string { return s.id }

// ObjectName returns the destination object in the blob store.
func (s *Session) ObjectName() string { return s.objectName }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// CaptureDone is closed when the capture source stops producing.
func (s *Session) CaptureDone() <-chan struct{} { return s.captureDone }

// CaptureErr returns the capture source's error once CaptureDone is closed.
func (s *Session) CaptureErr() error {
	select {
	case <-s.captureDone:
		return s.captureErr
	default:
		return nil
	}
}

// Progress returns a snapshot of upload progress.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() Progress {
	p := Progress{
		Expected: s.acc.Emitted(),
		Chunks:   s.chunks,
		Fallback: s.upload == nil || s.degraded,
	}
	if s.upload != nil {
		p.Offset = s.upload.Offset()
	}
	return p
}

func (s *Session) begin(source capture.Source) {
	s.startedAt = time.Now()
	s.state = StateActive

	captureCtx, captureCancel := context.WithCancel(s.baseCtx)
	s.captureCancel = captureCancel
	go func() {
		defer close(s.captureDone)
		s.captureErr = source.Run(captureCtx, s.acc.Append)
	}()

	driverCtx, driverCancel := context.WithCancel(s.baseCtx)
	s.driverCancel = driverCancel
	tick := s.m.newTicker(s.m.flushInterval)
	go s.drive(driverCtx, tick)
}

// drive flushes the accumulator on every tick. It is the only goroutine that
// uploads chunks while the session is active.
func (s *Session) drive(ctx context.Context, tick ticker) {
	defer close(s.driverDone)
	defer tick.Stop()
	for {
		select {
		case <-s.stopTick:
			return
		case <-tick.C():
			if chunk, ok := s.acc.Flush(); ok {
				s.handleChunk(ctx, chunk)
			}
		}
	}
}

func (s *Session) handleChunk(ctx context.Context, chunk chunker.Chunk) {
	s.spoolChunk(chunk)
	if s.resumable() {
		if err := s.uploadChunk(ctx, chunk, false); err != nil {
			s.degrade(err)
		}
	}
	s.mu.Lock()
	s.chunks++
	s.mu.Unlock()
	s.enqueue(chunk, false)
	s.publishProgress()
}

func (s *Session) spoolChunk(chunk chunker.Chunk) {
	if chunk.Len() == 0 {
		return
	}
	if _, err := s.spool.Write(chunk.Data); err != nil {
		s.mu.Lock()
		first := s.spoolErr == nil
		s.spoolErr = errors.Join(s.spoolErr, err)
		s.mu.Unlock()
		if first {
			logging.ErrorWithContext(s.logger, "spool write failed", "spool_write_failed",
				logging.String(logging.FieldErrorHint, "check free space in spool_dir"),
				logging.String(logging.FieldImpact, "local copy of the recording is incomplete"),
				logging.Int(logging.FieldChunkIndex, chunk.Index),
				logging.Error(err),
			)
		}
	}
}

func (s *Session) resumable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload != nil && !s.degraded
}

func (s *Session) degrade(err error) {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
	logging.WarnWithContext(s.logger, "resumable upload failed, switching to upload at stop", "chunk_upload_failed",
		logging.String(logging.FieldErrorHint, "check storage connectivity"),
		logging.String(logging.FieldImpact, "recording is spooled locally and uploaded in one piece"),
		logging.String("error_kind", services.ErrorKind(err)),
		logging.Error(err),
	)
}

func (s *Session) uploadChunk(ctx context.Context, chunk chunker.Chunk, isLast bool) error {
	want := blobstore.OutcomeContinue
	if isLast {
		want = blobstore.OutcomeFinalized
	}
	policy := s.m.uploadPolicy.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		s.logger.Info("retrying chunk upload",
			logging.Int(logging.FieldChunkIndex, chunk.Index),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	})
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		outcome, err := s.upload.UploadChunk(ctx, chunk, isLast)
		if err != nil {
			if errors.Is(err, blobstore.ErrSessionFinalized) || errors.Is(err, blobstore.ErrUploadInFlight) {
				return retry.Permanent(err)
			}
			return err
		}
		if outcome != want {
			return retry.Permanent(fmt.Errorf("chunk %d: store reported %s, expected %s", chunk.Index, outcome, want))
		}
		return nil
	})
}

func (s *Session) enqueue(chunk chunker.Chunk, isLast bool) error {
	err := s.m.transcripts.Enqueue(chunk, s.id, isLast)
	if err != nil {
		s.logger.Warn("chunk not queued for transcription",
			logging.Int(logging.FieldChunkIndex, chunk.Index),
			logging.String(logging.FieldEventType, "transcription_enqueue_failed"),
			logging.String(logging.FieldErrorHint, "dispatcher is shutting down"),
			logging.String(logging.FieldImpact, "transcript will have a gap"),
			logging.Error(err),
		)
	}
	return err
}

func (s *Session) publishProgress() {
	if s.onProgress == nil {
		return
	}
	s.onProgress(s.Progress())
}

// halt stops capture and the driver. cancelUploads also aborts an in-flight
// chunk upload.
func (s *Session) halt(cancelUploads bool) {
	s.haltOnce.Do(func() {
		s.captureCancel()
		select {
		case <-s.captureDone:
		case <-time.After(captureGrace):
			s.logger.Warn("capture source did not stop in time",
				logging.String(logging.FieldEventType, "capture_stop_timeout"),
				logging.String(logging.FieldErrorHint, "capture source ignores cancellation"),
				logging.String(logging.FieldImpact, "late fragments are dropped"),
			)
		}
		if cancelUploads {
			s.driverCancel()
		}
		close(s.stopTick)
		<-s.driverDone
		s.driverCancel()
	})
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from || !canTransition(from, to) {
		return transitionError(s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) finish(to State) {
	s.mu.Lock()
	if canTransition(s.state, to) {
		s.state = to
	}
	s.mu.Unlock()
	s.m.release(s.id)
}

// Abort ends an active recording without uploading anything further. Buffered
// bytes are discarded and no remote request is made.
func (s *Session) Abort(ctx context.Context) error {
	if err := s.transition(StateActive, StateFailed); err != nil {
		return err
	}
	s.halt(true)
	dropped := s.acc.Discard()
	s.m.transcripts.Cancel(s.id)
	s.m.transcripts.Forget(s.id)
	if err := s.m.records.Fail(ctx, s.id, meetings.Failure{Message: "recording aborted", Kind: "aborted"}); err != nil {
		s.logger.Warn("persist abort failed", logging.Error(err))
	}
	if err := s.spool.Remove(); err != nil {
		s.logger.Debug("spool removal failed", logging.Error(err))
	}
	s.m.release(s.id)
	s.logger.Info("recording aborted",
		logging.Int("dropped_bytes", dropped),
		logging.Int64("uploaded_bytes", s.Progress().Offset),
	)
	return nil
}
