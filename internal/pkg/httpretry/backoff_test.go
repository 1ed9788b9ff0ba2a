package httpretry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep() (func(ctx context.Context, d time.Duration) error, *[]time.Duration) {
	var slept []time.Duration
	return func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}, &slept
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	sleep, slept := noSleep()
	opts := DefaultBackoff()
	opts.sleep = sleep

	calls := 0
	result, err := Execute(context.Background(), opts, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestExecuteNonRetryableFailsImmediately(t *testing.T) {
	sleep, slept := noSleep()
	opts := DefaultBackoff()
	opts.sleep = sleep

	fatal := errors.New("401 unauthorized")
	calls := 0
	_, err := Execute(context.Background(), opts, func(ctx context.Context) (string, error) {
		calls++
		return "", fatal
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, fatal, err, "non-retryable error must propagate unchanged")
	assert.Empty(t, *slept)
}

func TestExecuteExhaustionReturnsLastError(t *testing.T) {
	sleep, _ := noSleep()
	opts := DefaultBackoff()
	opts.MaxAttempts = 3
	opts.sleep = sleep

	calls := 0
	_, err := Execute(context.Background(), opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d: rate limit exceeded", calls)
	})

	assert.Equal(t, 3, calls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 3")
}

func TestExecuteHonorsRetryAfterHint(t *testing.T) {
	sleep, slept := noSleep()
	opts := DefaultBackoff()
	opts.sleep = sleep

	calls := 0
	_, err := Execute(context.Background(), opts, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &RetryableError{
				Err:        errors.New("throttled"),
				RetryAfter: 7 * time.Second,
			}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Len(t, *slept, 1)
	assert.Equal(t, 7*time.Second, (*slept)[0], "hint overrides computed backoff")
}

func TestExecuteParsesRetryAfterFromErrorText(t *testing.T) {
	hint := retryAfterHint(errors.New("429 too many requests, retry after 12 seconds"))
	assert.Equal(t, 12*time.Second, hint)

	assert.Zero(t, retryAfterHint(errors.New("plain failure")))
}

func TestExecuteBackoffGrowthCapped(t *testing.T) {
	opts := DefaultBackoff()
	opts.InitialDelay = 1 * time.Second
	opts.MaxDelay = 4 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(opts, attempt)
		assert.LessOrEqual(t, d, 4*time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond/2)
	}
	// First retry delay lands in [0.5s, 1s)
	d := backoffDelay(opts, 0)
	assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	assert.Less(t, d, 1*time.Second)
}

func TestExecuteContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultBackoff()
	opts.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	calls := 0
	_, err := Execute(ctx, opts, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", errors.New("timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "canceled context stops further attempts")
}

func TestWithRetryFixedDelay(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not a retryable-looking error at all")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "fixed variant retries regardless of error class")
}

func TestRetryClientRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), 3)
	rc.baseDelay = time.Millisecond
	rc.maxDelay = 2 * time.Millisecond

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, attempts)
}

func TestRetryClientDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rc := NewRetryClient(srv.Client(), 3)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rc.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, attempts)
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("garbage"))
}
