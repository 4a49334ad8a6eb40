package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const retryAttempts = 4

var retryDelays = [...]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// RetryableError marks an error from a Client implementation as worth
// retrying (HTTP 429/5xx-class failures); any other error is treated
// as a non-retryable 4xx-class failure and surfaced immediately.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func isRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// retryingClient wraps a Client with exponential backoff over
// RetryableError failures: one initial attempt plus up to 3 retries,
// with delays of 1s/2s/4s before the retries.
type retryingClient struct {
	inner Client
}

// WithRetry wraps client so transient provider failures (marked with
// RetryableError) are retried with exponential backoff before giving up.
func WithRetry(client Client) Client {
	return &retryingClient{inner: client}
}

func (r *retryingClient) Infer(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		resp, err := r.inner.Infer(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return Response{}, err
		}
		if attempt == retryAttempts-1 {
			break
		}
		delay := retryDelays[attempt]
		slog.Warn("llm: retrying after transient failure", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return Response{}, lastErr
}
