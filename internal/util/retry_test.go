package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	calls := 0

	result := Retry(ctx, &RetryConfig{MaxAttempts: 3, Sleeper: NoSleep}, func() error {
		calls++
		return nil
	})

	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected function to be called once, got %d", calls)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_SucceedsOnLastAttempt(t *testing.T) {
	ctx := context.Background()
	sleeper := &recordingSleeper{}
	calls := 0

	config := &RetryConfig{
		MaxAttempts: 5,
		Policy:      FixedBackoff{Interval: time.Second},
		Sleeper:     sleeper,
	}

	got, result := RetryWithValue(ctx, config, func() (string, error) {
		calls++
		if calls < 5 {
			return "", errors.New("wallet not ready")
		}
		return "client", nil
	})

	if result.Err() != nil {
		t.Fatalf("expected success, got %v", result.Err())
	}
	if got != "client" {
		t.Errorf("expected value %q, got %q", "client", got)
	}
	if result.Attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", result.Attempts)
	}
	if len(result.Errors) != 4 {
		t.Errorf("expected 4 recorded errors, got %d", len(result.Errors))
	}
	if len(sleeper.delays) != 4 {
		t.Fatalf("expected 4 sleeps, got %d", len(sleeper.delays))
	}
	for i, d := range sleeper.delays {
		if d != time.Second {
			t.Errorf("sleep %d: expected 1s, got %v", i, d)
		}
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	ctx := context.Background()
	calls := 0

	result := Retry(ctx, &RetryConfig{MaxAttempts: 5, Sleeper: NoSleep}, func() error {
		calls++
		return errors.New("persistent error")
	})

	if calls != 5 {
		t.Errorf("expected 5 calls, got %d", calls)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", result.LastError)
	}
}

func TestRetry_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	Retry(context.Background(), &RetryConfig{Sleeper: NoSleep}, func() error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	result := Retry(ctx, &RetryConfig{MaxAttempts: 10, Sleeper: NoSleep}, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("error")
	})

	if calls != 2 {
		t.Errorf("expected 2 calls before cancellation, got %d", calls)
	}
	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", result.LastError)
	}
}

func TestRetry_RealSleeperHonoursDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	config := FixedRetryConfig(5, time.Hour)
	start := time.Now()
	result := Retry(ctx, config, func() error { return errors.New("down") })

	if time.Since(start) > 5*time.Second {
		t.Fatalf("retry did not stop at the context deadline")
	}
	if !errors.Is(result.LastError, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", result.LastError)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	calls := 0
	result := Retry(context.Background(), &RetryConfig{
		MaxAttempts: 5,
		Sleeper:     NoSleep,
		RetryIf:     DefaultRetryIf(),
	}, func() error {
		calls++
		return MarkNonRetryable(errors.New("no wallet"))
	})

	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
	if errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("non-retryable error should not report exhaustion: %v", result.LastError)
	}
}

func TestRetry_OnRetryHook(t *testing.T) {
	var seen []int
	Retry(context.Background(), &RetryConfig{
		MaxAttempts: 3,
		Sleeper:     NoSleep,
		Policy:      FixedBackoff{Interval: time.Millisecond},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if delay != time.Millisecond {
				t.Errorf("unexpected delay %v", delay)
			}
			seen = append(seen, attempt)
		},
	}, func() error { return errors.New("fail") })

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", seen)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	retryIf := DefaultRetryIf()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("x"), true},
		{"non-retryable", MarkNonRetryable(errors.New("x")), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryIf(tt.err); got != tt.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMarkRetryable(t *testing.T) {
	if MarkRetryable(nil) != nil {
		t.Error("MarkRetryable(nil) should return nil")
	}
	err := MarkRetryable(errors.New("x"))
	if !IsRetryable(err) {
		t.Error("expected error to be retryable")
	}
	if IsNonRetryable(err) {
		t.Error("retryable error reported as non-retryable")
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	if config.MaxAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", config.MaxAttempts)
	}
	if config.Policy == nil || config.Sleeper == nil {
		t.Error("expected policy and sleeper to be set")
	}
}
