package parley

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryExecutor wraps an Executor and retries transient failures (HTTP 429
// and 503, or executor errors marked retryable) with exponential backoff.
// Structural failures and successes pass through on the first attempt.
type retryExecutor struct {
	inner       Executor
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall deadline across all attempts; 0 means none
	logger      *slog.Logger
}

var _ Executor = (*retryExecutor)(nil)

// RetryOption configures the retry wrapper built by WithRetry.
type RetryOption func(*retryExecutor)

// RetryMaxAttempts sets the total number of attempts, including the first.
// Values below 1 are ignored. Default is 3.
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryExecutor) {
		if n >= 1 {
			r.maxAttempts = n
		}
	}
}

// RetryBaseDelay sets the backoff base delay. The wait before attempt i+1 is
// base*2^i plus jitter, floored by any Retry-After the backend sent.
// Default is 1s.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryExecutor) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// RetryTimeout bounds the total time spent across all attempts, including
// backoff waits. Zero means no overall bound beyond the caller's context.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryExecutor) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// RetryLogger sets the logger for retry warnings. Default discards.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryExecutor) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetry wraps e so that transient failures are retried with exponential
// backoff and jitter. A Retry-After hint from the backend, when present,
// acts as a floor on the computed delay.
func WithRetry(e Executor, opts ...RetryOption) Executor {
	r := &retryExecutor{
		inner:       e,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryExecutor) Name() string { return r.inner.Name() }

func (r *retryExecutor) Execute(ctx context.Context, req ExecutorRequest) (ExecutorResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Execute(ctx, req)
		if err == nil || !isTransient(err) {
			return resp, err
		}
		lastErr = err
		r.logger.Warn("transient executor failure",
			"executor", r.inner.Name(),
			"attempt", i+1,
			"max_attempts", r.maxAttempts,
			"status", statusOf(err),
			"error", err)
		if i == r.maxAttempts-1 {
			break
		}
		if err := sleepCtx(ctx, retryDelay(r.baseDelay, i, lastErr)); err != nil {
			return ExecutorResponse{}, err
		}
	}
	r.logger.Error("retry attempts exhausted",
		"executor", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", lastErr)
	return ExecutorResponse{}, lastErr
}

func (r *retryExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// isTransient reports whether err is worth retrying: rate limiting (429),
// backend overload (503), or an executor error flagged retryable.
func isTransient(err error) bool {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status == 503
	}
	var execErr *ErrExecutor
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	return false
}

func statusOf(err error) int {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

// retryDelay picks the wait before the next attempt: exponential backoff
// with jitter, floored by the backend's Retry-After hint when it sent one.
func retryDelay(base time.Duration, attempt int, err error) time.Duration {
	delay := retryBackoff(base, attempt)
	if ra := retryAfterOf(err); ra > delay {
		delay = ra
	}
	return delay
}

func retryBackoff(base time.Duration, attempt int) time.Duration {
	delay := base * (1 << attempt)
	if half := int64(delay) / 2; half > 0 {
		delay += time.Duration(rand.Int63n(half))
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
