package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetscribe/internal/services"
)

var errAttemptTimeout = errors.New("attempt timed out")

// StatusError is the common error for non-success HTTP responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// NewStatusError builds a StatusError from a response and its (already read) body.
func NewStatusError(op string, resp *http.Response, body []byte) *StatusError {
	statusErr := &StatusError{Op: op, Body: SummarizeBody(body)}
	if resp != nil {
		statusErr.StatusCode = resp.StatusCode
		statusErr.RetryAfter, _ = ParseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return statusErr
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether err belongs to a transient failure class.
//
// Terminal: explicit Permanent errors, cancellation, validation/configuration/
// not-found markers, and HTTP 4xx other than 408 and 429.
// Retryable: attempt timeouts, network errors, HTTP 408/429/5xx, and any
// failure that is not classified as terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, errAttemptTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, services.ErrValidation) ||
		errors.Is(err, services.ErrConfiguration) ||
		errors.Is(err, services.ErrNotFound) {
		return false
	}
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		return RetryableStatus(status.HTTPStatus())
	}
	return true
}

// RetryableStatus classifies an HTTP status code.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	case code == 0:
		// No response was observed at all.
		return true
	default:
		return false
	}
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// SummarizeBody flattens a response body into a short single-line snippet.
func SummarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := strings.Join(strings.Fields(replacer.Replace(trimmed)), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
