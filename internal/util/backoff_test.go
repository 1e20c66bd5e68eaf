package util

import (
	"context"
	"testing"
	"time"
)

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff{Interval: time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := b.Delay(attempt); got != time.Second {
			t.Errorf("attempt %d: expected 1s, got %v", attempt, got)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestJitteredBackoff_Bounds(t *testing.T) {
	inner := FixedBackoff{Interval: time.Second}

	low := JitteredBackoff{Policy: inner, Jitter: 0.2, Rand: func() float64 { return 0 }}
	if got := low.Delay(1); got != 800*time.Millisecond {
		t.Errorf("expected lower bound 800ms, got %v", got)
	}

	mid := JitteredBackoff{Policy: inner, Jitter: 0.2, Rand: func() float64 { return 0.5 }}
	if got := mid.Delay(1); got != time.Second {
		t.Errorf("expected midpoint 1s, got %v", got)
	}

	random := JitteredBackoff{Policy: inner, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		got := random.Delay(1)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("delay %v outside jitter range", got)
		}
	}
}

func TestNewBackoffPolicy(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"", false},
		{BackoffFixed, false},
		{BackoffExponential, false},
		{BackoffJittered, false},
		{"linear", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			p, err := NewBackoffPolicy(tt.kind, time.Second, 10*time.Second, 2, 0.1)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBackoffPolicy(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
			if !tt.wantErr && p == nil {
				t.Fatal("expected a policy")
			}
		})
	}
}

func TestRealSleeper_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RealSleeper.Sleep(ctx, time.Hour); err == nil {
		t.Error("expected error from canceled context")
	}
	if err := RealSleeper.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
