// Package retry runs operations with bounded attempts, exponential backoff
// and an optional overall timeout. Every network-facing settlement step
// goes through it; purely structural failures (validation, configuration)
// never do, because retrying cannot fix a malformed request.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Options controls one retried operation. Zero-valued fields take the
// documented defaults; caller overrides always win. This is an explicit
// merge - there is no hidden option inheritance.
type Options struct {
	// Attempts is the maximum number of tries, including the first.
	// Default 5.
	Attempts int

	// BaseDelay is the wait after the first failed attempt; each further
	// wait doubles, capped at MaxDelay. Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Default 8s.
	MaxDelay time.Duration

	// Timeout bounds the whole operation including backoff waits. Zero
	// means no overall timeout. When the timeout fires, the in-flight
	// attempt's result is discarded and a TimeoutError is returned.
	Timeout time.Duration

	// RetryIf classifies errors. Only errors it returns true for consume
	// further attempts; anything else aborts immediately. Default:
	// retry everything.
	RetryIf func(error) bool
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 8 * time.Second
	}
	if o.RetryIf == nil {
		o.RetryIf = func(error) bool { return true }
	}
	return o
}

// TimeoutError is returned when Options.Timeout elapses before the
// operation succeeds. It wraps the last attempt error, if any.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
	Last    error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: timed out after %s (last error: %v)", e.Op, e.Elapsed, e.Last)
	}
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Elapsed)
}

// Unwrap exposes the last attempt error to errors.Is/As.
func (e *TimeoutError) Unwrap() error { return e.Last }

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ExhaustedError is returned when all attempts are consumed by retryable
// failures. It wraps the final attempt's error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

// Unwrap exposes the last attempt error to errors.Is/As.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op under the given options and returns its result.
//
// The loop stops on the first of: success, a non-retryable error, attempt
// exhaustion (ExhaustedError), the overall timeout (TimeoutError), or
// context cancellation. Each attempt runs in its own goroutine so a stuck
// attempt cannot outlive the timeout from the caller's point of view; the
// abandoned attempt's result is discarded.
func Do[T any](ctx context.Context, name string, opts Options, op func(context.Context) (T, error)) (T, error) {
	var zero T
	opts = opts.withDefaults()

	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var lastErr error
	delay := opts.BaseDelay
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		result, err := runAttempt(ctx, op)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, timeoutOrCanceled(ctx, name, start, lastErr, err)
		}
		if !opts.RetryIf(err) {
			return zero, err
		}
		lastErr = err

		if attempt == opts.Attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, timeoutOrCanceled(ctx, name, start, lastErr, nil)
		}
		delay = min(delay*2, opts.MaxDelay)
	}

	return zero, &ExhaustedError{Op: name, Attempts: opts.Attempts, Last: lastErr}
}

// runAttempt races one invocation of op against ctx. If ctx wins, the
// goroutine's eventual result is dropped on the floor (fire-and-forget).
func runAttempt[T any](ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := op(ctx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func timeoutOrCanceled(ctx context.Context, name string, start time.Time, lastErr, attemptErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		last := lastErr
		if last == nil && !errors.Is(attemptErr, context.DeadlineExceeded) {
			last = attemptErr
		}
		return &TimeoutError{Op: name, Elapsed: time.Since(start), Last: last}
	}
	return ctx.Err()
}
