// Package capture adapts media producers into a stream of fragments for the
// recording pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const defaultReadSize = 32 << 10

// Source produces media fragments until it is exhausted or ctx ends. emit must
// not retain the slice after it returns. Run returns nil when the source ended
// on its own and ctx.Err() when it was cancelled.
type Source interface {
	Run(ctx context.Context, emit func([]byte)) error
}

// ReaderSource reads fragments from an io.Reader such as a file or the stdout
// of an encoder process.
type ReaderSource struct {
	R io.Reader
	// ReadSize bounds each fragment. Defaults to 32 KiB.
	ReadSize int
}

// Run reads until EOF. When R is also an io.Closer it is closed on
// cancellation to unblock a pending read.
func (s *ReaderSource) Run(ctx context.Context, emit func([]byte)) error {
	if s == nil || s.R == nil {
		return errors.New("capture: reader source has no reader")
	}
	size := s.ReadSize
	if size <= 0 {
		size = defaultReadSize
	}
	if closer, ok := s.R.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	buf := make([]byte, size)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.R.Read(buf)
		if n > 0 {
			emit(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("capture: read: %w", err)
		}
	}
}
