package workflow

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate when the
// policy's fields are inconsistent.
var ErrInvalidRetryPolicy = errors.New("workflow: invalid retry policy")

// RetryPolicy governs how many times and with what backoff a handler
// invocation is retried after a failure. A nil *RetryPolicy on
// ExecutorOptions means no retry: a handler error fails the superstep on
// the first attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Must be >= 1.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; each subsequent
	// delay doubles, capped at MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable reports whether err should trigger another attempt. A
	// nil Retryable retries every error.
	Retryable func(error) bool
}

// Validate reports whether p's fields are internally consistent.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (p *RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// computeBackoff returns the delay before the given retry attempt
// (1-indexed: attempt 1 is the delay before the second try), doubling
// from base and capped at maxDelay, plus up to 20% jitter so that
// multiple concurrently-retrying executors don't retry in lockstep.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
			break
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}

// getExecutorTimeout resolves the timeout for an executor invocation:
// the executor's own Timeout takes precedence over the run's default,
// and zero on both means unlimited.
func getExecutorTimeout(opts ExecutorOptions, defaultTimeout time.Duration) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return defaultTimeout
}

// runWithRetry invokes fn under the configured timeout and retry policy.
// fn must be idempotent across retries: state writes staged through the
// State Manager during a failed attempt are never rolled back.
func runWithRetry(ctx context.Context, timeout time.Duration, policy *RetryPolicy, fn func(context.Context) error) error {
	attempts := 1
	if policy != nil {
		attempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if callCtx.Err() == context.DeadlineExceeded {
			err = &handlerTimeoutError{timeout: timeout, cause: err}
		}
		lastErr = err

		if policy == nil || attempt == attempts || !policy.retryable(err) {
			return lastErr
		}
		delay := computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

type handlerTimeoutError struct {
	timeout time.Duration
	cause   error
}

func (e *handlerTimeoutError) Error() string {
	return "workflow: handler exceeded timeout of " + e.timeout.String()
}

func (e *handlerTimeoutError) Unwrap() error { return e.cause }
