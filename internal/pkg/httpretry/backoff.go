package httpretry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BackoffOptions configures Execute.
type BackoffOptions struct {
	MaxAttempts  int           // total attempts including the first (default 3)
	InitialDelay time.Duration // default 1s
	MaxDelay     time.Duration // default 32s
	Multiplier   float64       // default 2
	// Retryable classifies an error as worth retrying. Nil means
	// DefaultRetryable.
	Retryable func(error) bool
	// sleep is injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff returns the standard options used for connector and LLM calls.
func DefaultBackoff() BackoffOptions {
	return BackoffOptions{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     32 * time.Second,
		Multiplier:   2,
	}
}

// RetryableError marks an error as transient regardless of its text, and
// optionally carries a provider-supplied retry-after hint.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration // 0 = no hint
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// DefaultRetryable reports whether an error looks transient: rate limits,
// network/timeout failures, and 5xx gateway errors. Anything wrapped in
// RetryableError is always retryable.
func DefaultRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "too many requests", "429",
		"timeout", "timed out", "connection refused", "connection reset",
		"temporary failure", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// retryAfterHint extracts a provider retry-after hint from an error, either
// the structured RetryableError field or a "retry after N" fragment in the
// error text. Returns 0 when there is no hint.
func retryAfterHint(err error) time.Duration {
	var re *RetryableError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		return re.RetryAfter
	}
	if m := retryAfterRegex.FindStringSubmatch(err.Error()); m != nil {
		if secs, perr := strconv.Atoi(m[1]); perr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// Execute runs op with exponential backoff. Non-retryable errors and
// exhaustion both propagate the last error unchanged. The delay before
// attempt n is min(maxDelay, initialDelay * multiplier^(n-1)) scaled by
// jitter in [0.5, 1.0], unless the error carries a retry-after hint, which
// overrides the computed delay.
func Execute[T any](ctx context.Context, opts BackoffOptions, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 1 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 32 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(opts, attempt-1)
			if hint := retryAfterHint(lastErr); hint > 0 {
				delay = hint
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, lastErr
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// WithRetry is the fixed-delay variant: up to attempts tries at a constant
// delay, every failure retryable. Used where backoff growth buys nothing
// (e.g. short idempotent persistence reads).
func WithRetry(ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return lastErr
			}
		}
		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func backoffDelay(opts BackoffOptions, attempt int) time.Duration {
	exp := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt))
	if exp > float64(opts.MaxDelay) {
		exp = float64(opts.MaxDelay)
	}
	// Jitter in [0.5, 1.0)
	return time.Duration((0.5 + rand.Float64()/2) * exp)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
