// Package retry bounds remote calls with a retry budget and backoff.
//
// Policies come in two shapes: Fixed (transcription: a constant delay between
// a small number of retries) and Exponential (metadata saves: doubling delay
// with a cap). Retryable separates transient failures (network errors,
// per-attempt timeouts, HTTP 408/429/5xx) from terminal ones (other 4xx,
// validation markers, Permanent errors), and terminal failures short-circuit
// without spending the remaining budget.
package retry
