package util

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy returns the delay to wait after the given failed attempt.
// Attempts are numbered from 1.
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval after every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

// Delay implements BackoffPolicy.
func (b FixedBackoff) Delay(int) time.Duration {
	return b.Interval
}

// ExponentialBackoff grows the delay by Multiplier after every attempt,
// capped at Max when Max is positive.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay implements BackoffPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	// delay = base * multiplier^(attempt-1)
	delay := float64(b.Base) * math.Pow(multiplier, float64(attempt-1))
	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 1)) {
		return b.Max
	}
	return time.Duration(delay)
}

// JitteredBackoff spreads the delay of an inner policy by +/- Jitter
// (a fraction between 0 and 1) to avoid synchronized retries.
type JitteredBackoff struct {
	Policy BackoffPolicy
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Delay implements BackoffPolicy.
func (b JitteredBackoff) Delay(attempt int) time.Duration {
	if b.Policy == nil {
		return 0
	}
	delay := float64(b.Policy.Delay(attempt))
	if b.Jitter <= 0 {
		return time.Duration(delay)
	}
	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := delay * math.Min(b.Jitter, 1)
	return time.Duration(delay - spread + rnd()*2*spread)
}

// Backoff kinds accepted by NewBackoffPolicy.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
	BackoffJittered    = "jittered"
)

// NewBackoffPolicy builds a policy from its configuration name. A jittered
// policy wraps an exponential one.
func NewBackoffPolicy(kind string, base, max time.Duration, multiplier, jitter float64) (BackoffPolicy, error) {
	switch kind {
	case "", BackoffFixed:
		return FixedBackoff{Interval: base}, nil
	case BackoffExponential:
		return ExponentialBackoff{Base: base, Max: max, Multiplier: multiplier}, nil
	case BackoffJittered:
		return JitteredBackoff{
			Policy: ExponentialBackoff{Base: base, Max: max, Multiplier: multiplier},
			Jitter: jitter,
		}, nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", kind)
	}
}

// Sleeper blocks for a duration or until the context is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealSleeper waits on a timer.
var RealSleeper Sleeper = timerSleeper{}

// NoSleep returns immediately unless the context is already done.
var NoSleep Sleeper = SleeperFunc(func(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
})
