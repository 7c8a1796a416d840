package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes how often and how long to retry a remote call.
type Policy struct {
	// MaxAttempts counts the initial call; values <= 0 mean a single attempt.
	MaxAttempts int
	// Backoff returns the delay before the next attempt. attempt is 1-based
	// and names the attempt that just failed.
	Backoff func(attempt int) time.Duration
	// MaxDelay caps server-provided Retry-After hints. Zero means no cap.
	MaxDelay time.Duration
	// AttemptTimeout bounds each individual attempt. Exceeding it is retryable.
	AttemptTimeout time.Duration
	// OnRetry is invoked before sleeping for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep overrides how delays are waited out (useful for tests).
	Sleep func(ctx context.Context, delay time.Duration) error
}

// Fixed retries a call retries times after the initial attempt with a constant delay.
func Fixed(retries int, delay time.Duration) Policy {
	if retries < 0 {
		retries = 0
	}
	return Policy{
		MaxAttempts: retries + 1,
		Backoff:     func(int) time.Duration { return delay },
		MaxDelay:    delay,
	}
}

// Exponential doubles the delay per attempt starting at base, capped at maxDelay:
// delay = min(base*2^(attempt-1), maxDelay).
func Exponential(maxAttempts int, base, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int) time.Duration {
			return exponentialDelay(attempt, base, maxDelay)
		},
		MaxDelay: maxDelay,
	}
}

func exponentialDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// WithAttemptTimeout returns a copy of p with a per-attempt deadline.
func (p Policy) WithAttemptTimeout(timeout time.Duration) Policy {
	p.AttemptTimeout = timeout
	return p
}

// WithOnRetry returns a copy of p that reports retries to fn.
func (p Policy) WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Policy {
	p.OnRetry = fn
	return p
}

// WithSleep returns a copy of p that waits with fn instead of a timer.
func (p Policy) WithSleep(fn func(ctx context.Context, delay time.Duration) error) Policy {
	p.Sleep = fn
	return p
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails terminally, the context ends, or the
// attempt budget is exhausted.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		value, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil || !Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, errAttemptTimeout) {
		err = fmt.Errorf("%w after %s: %w", errAttemptTimeout, timeout, err)
	}
	return value, err
}

func (p Policy) delay(attempt int, err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return capDelay(statusErr.RetryAfter, p.MaxDelay)
	}
	if p.Backoff == nil {
		return 0
	}
	return capDelay(p.Backoff(attempt), 0)
}

func capDelay(delay, maxDelay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleep != nil {
		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
