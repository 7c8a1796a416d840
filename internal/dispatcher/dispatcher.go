package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
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

var (
	// ErrClosed is returned when work is submitted after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrCancelled is reported by Wait for a session whose lane was cancelled.
	ErrCancelled = errors.New("transcription cancelled")
	// ErrUnknownSession is reported by Wait for a session that never enqueued work.
	ErrUnknownSession = errors.New("unknown transcription session")
)

// Stager publishes chunk audio where the transcription service can fetch it.
type Stager interface {
	Stage(ctx context.Context, name, contentType string, data []byte) (blobstore.Reference, error)
	Delete(ctx context.Context, name string) error
}

// Transcriber converts one chunk into a transcript fragment.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcript.Fragment, error)
}

// Summarizer condenses a full transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// RecordWriter persists transcript progress and completion.
type RecordWriter interface {
	SaveTranscript(ctx context.Context, id string, t meetings.Transcript) error
	Complete(ctx context.Context, id string, t meetings.Transcript) error
}

// Options wires the dispatcher's collaborators.
type Options struct {
	// Transcriber may be nil, in which case chunks are skipped and completed
	// records carry a disabled transcript.
	Transcriber Transcriber
	// Stager may be nil only when Inline is set.
	Stager     Stager
	Summarizer Summarizer
	Records    RecordWriter
	Logger     *slog.Logger

	ContentType   string
	StagingPrefix string
	Inline        bool

	// Policy governs per-chunk retries. Zero value means retry.Fixed(3, 3s).
	Policy         retry.Policy
	AttemptTimeout time.Duration
}

// Result is the outcome of one session's transcription.
type Result struct {
	SessionID  string
	Transcript meetings.Transcript
	// Gaps lists abandoned chunk indices.
	Gaps []int
	// Err reports a failure to persist the completed record.
	Err error
}

type item struct {
	chunk        chunker.Chunk
	isLast       bool
	completeOnly bool
}

type lane struct {
	id        string
	queue     []item
	active    bool
	cancelled bool
	completed bool
	acc       *transcript.Accumulator
	failed    []int

	done     chan struct{}
	doneOnce sync.Once
	result   Result
}

func (l *lane) finish(result Result) {
	l.doneOnce.Do(func() {
		l.result = result
		close(l.done)
	})
}

// Dispatcher owns one lane per recording session.
type Dispatcher struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// New constructs a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.Fixed(3, 3*time.Second)
	}
	if opts.AttemptTimeout > 0 {
		opts.Policy = opts.Policy.WithAttemptTimeout(opts.AttemptTimeout)
	}
	if strings.TrimSpace(opts.StagingPrefix) == "" {
		opts.StagingPrefix = "staging/"
	}
	if !strings.HasSuffix(opts.StagingPrefix, "/") {
		opts.StagingPrefix += "/"
	}
	if opts.ContentType == "" {
		opts.ContentType = "audio/webm"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "dispatcher"),
		lanes:  make(map[string]*lane),
	}
}

// Enqueue appends chunk to the session's FIFO and starts its worker if idle.
// It never blocks on transcription.
func (d *Dispatcher) Enqueue(chunk chunker.Chunk, sessionID string, isLast bool) error {
	return d.push(sessionID, item{chunk: chunk, isLast: isLast || chunk.IsLast})
}

// MarkCompleteOnly queues a completion marker behind any pending chunks so
// the session completes with whatever text has accumulated.
func (d *Dispatcher) MarkCompleteOnly(sessionID string) error {
	return d.push(sessionID, item{completeOnly: true})
}

func (d *Dispatcher) push(sessionID string, it item) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return services.Wrap(services.ErrValidation, "dispatcher", "enqueue", "session id required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	l := d.laneLocked(sessionID)
	if l.cancelled || l.completed {
		d.logger.Debug("dropping work for finished session",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int(logging.FieldChunkIndex, it.chunk.Index),
		)
		return nil
	}
	l.queue = append(l.queue, it)
	if !l.active {
		l.active = true
		d.wg.Add(1)
		go d.run(l)
	}
	return nil
}

func (d *Dispatcher) laneLocked(sessionID string) *lane {
	l, ok := d.lanes[sessionID]
	if !ok {
		l = &lane{
			id:   sessionID,
			acc:  transcript.NewAccumulator(),
			done: make(chan struct{}),
		}
		d.lanes[sessionID] = l
	}
	return l
}

// Wait blocks until the session completes, is cancelled, or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context, sessionID string) (Result, error) {
	d.mu.Lock()
	l, ok := d.lanes[sessionID]
	d.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-l.done:
		return l.result, l.result.Err
	}
}

// Cancel drops queued chunks for the session. An in-flight call runs to
// completion but the completion path never runs.
func (d *Dispatcher) Cancel(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[sessionID]
	if !ok {
		l = d.laneLocked(sessionID)
	}
	if l.completed {
		return
	}
	dropped := len(l.queue)
	l.cancelled = true
	l.queue = nil
	if !l.active {
		l.finish(Result{SessionID: sessionID, Err: ErrCancelled})
	}
	d.logger.Info("transcription cancelled",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("dropped_chunks", dropped),
	)
}

// Forget releases the lane of a finished session.
func (d *Dispatcher) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[sessionID]
	if !ok {
		return
	}
	select {
	case <-l.done:
		delete(d.lanes, sessionID)
	default:
	}
}

// Active reports the number of sessions with a running worker.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, l := range d.lanes {
		if l.active {
			count++
		}
	}
	return count
}

// Close rejects new work and waits for running workers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	ctx := services.WithSessionID(context.Background(), l.id)
	for {
		d.mu.Lock()
		if l.cancelled || l.completed || len(l.queue) == 0 {
			l.active = false
			cancelled := l.cancelled
			d.mu.Unlock()
			if cancelled {
				l.finish(Result{SessionID: l.id, Err: ErrCancelled})
			}
			return
		}
		next := l.queue[0]
		l.queue[0] = item{}
		l.queue = l.queue[1:]
		d.mu.Unlock()

		if !next.completeOnly {
			d.process(ctx, l, next.chunk)
		}
		if next.isLast || next.completeOnly {
			d.mu.Lock()
			if l.cancelled {
				d.mu.Unlock()
				continue
			}
			l.completed = true
			l.queue = nil
			d.mu.Unlock()
			l.finish(d.complete(ctx, l))
		}
	}
}
