package util

import (
	"context"
	"errors"
	"time"
)

// RetryConfig holds configuration for retrying an operation
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (values below 1 mean a single attempt, -1 = unlimited)
	MaxAttempts int
	// Policy decides the delay after each failed attempt
	Policy BackoffPolicy
	// Sleeper waits out the delay; defaults to RealSleeper
	Sleeper Sleeper
	// RetryIf is an optional function to determine if an error is retryable
	RetryIf func(error) bool
	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 4,
		Policy: JitteredBackoff{
			Policy: ExponentialBackoff{Base: 100 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2.0},
			Jitter: 0.1,
		},
		Sleeper: RealSleeper,
		RetryIf: DefaultRetryIf(),
	}
}

// FixedRetryConfig retries up to attempts times with the same delay between tries.
func FixedRetryConfig(attempts int, delay time.Duration) *RetryConfig {
	return &RetryConfig{
		MaxAttempts: attempts,
		Policy:      FixedBackoff{Interval: delay},
		Sleeper:     RealSleeper,
		RetryIf:     DefaultRetryIf(),
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // Last error encountered
	Errors    []error       // Error of every failed attempt, in order
	Duration  time.Duration // Total duration of all attempts
}

// Err returns the final error, or nil when the operation succeeded.
func (r *RetryResult) Err() error {
	return r.LastError
}

// ErrMaxRetriesExceeded is returned when the attempt budget is exhausted
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is returned when context is canceled during retry
var ErrContextCanceled = errors.New("context canceled during retry")

// Retry executes fn until it succeeds or the attempt budget runs out
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, result := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return result
}

// RetryWithValue executes a function that returns a value until it succeeds
// or the attempt budget runs out
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	sleeper := config.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()
	done := func(err error) (T, *RetryResult) {
		result.LastError = err
		result.Duration = time.Since(start)
		return zero, result
	}

	for {
		if err := ctx.Err(); err != nil {
			return done(errors.Join(ErrContextCanceled, err))
		}

		result.Attempts++
		val, err := fn()
		if err == nil {
			result.LastError = nil
			result.Duration = time.Since(start)
			return val, result
		}
		result.Errors = append(result.Errors, err)

		if config.RetryIf != nil && !config.RetryIf(err) {
			return done(err)
		}

		if config.MaxAttempts >= 0 && result.Attempts >= max(config.MaxAttempts, 1) {
			return done(errors.Join(ErrMaxRetriesExceeded, err))
		}

		var delay time.Duration
		if config.Policy != nil {
			delay = config.Policy.Delay(result.Attempts)
		}
		if config.OnRetry != nil {
			config.OnRetry(result.Attempts, err, delay)
		}

		if serr := sleeper.Sleep(ctx, delay); serr != nil {
			return done(errors.Join(ErrContextCanceled, serr, err))
		}
	}
}

// RetryableError wraps an error and marks it as retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is marked as retryable
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// MarkRetryable marks an error as retryable
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// NonRetryableError wraps an error and marks it as non-retryable
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// MarkNonRetryable marks an error as non-retryable
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// DefaultRetryIf retries all errors except non-retryable ones and context errors
func DefaultRetryIf() func(error) bool {
	return func(err error) bool {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return !IsNonRetryable(err)
	}
}
