// internal/retrypolicy/retry.go
package retrypolicy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy holds the backoff parameters for retryable failures. The zero value
// is not usable; construct via DefaultPolicy or Validate explicitly.
type Policy struct {
	InitialDelay   time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier" yaml:"multiplier"`
	JitterFraction float64       `mapstructure:"jitter_fraction" yaml:"jitter_fraction"`
}

// DefaultPolicy mirrors the delays used for LLM transport retries: start
// small, double each attempt, never exceed 30s.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Validate rejects parameter combinations that would break the strict
// monotonic-growth guarantee of Delay.
func (p Policy) Validate() error {
	if p.InitialDelay <= 0 {
		return fmt.Errorf("retry policy: initial_delay must be positive")
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("retry policy: max_delay must be >= initial_delay")
	}
	if p.Multiplier <= 1.0 {
		return fmt.Errorf("retry policy: multiplier must be > 1.0")
	}
	// Jitter may never push attempt N past the floor of attempt N+1.
	if p.JitterFraction < 0 || p.JitterFraction >= p.Multiplier-1.0 {
		return fmt.Errorf("retry policy: jitter_fraction must be in [0, multiplier-1)")
	}
	return nil
}

// ShouldRetry reports whether err is worth another attempt under this policy.
func (p Policy) ShouldRetry(err error) bool {
	return Classify(err).Retryable()
}

// Delay computes the backoff before retry attempt `attempt` (0-indexed).
// Growth is strictly monotonic until the base reaches MaxDelay, and the
// result is always clamped to MaxDelay. Jitter is additive and bounded by
// JitterFraction of the base, which Validate guarantees cannot reorder
// consecutive attempts.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	max := float64(p.MaxDelay)
	if base >= max {
		return p.MaxDelay
	}
	jitter := rand.Float64() * p.JitterFraction * base
	d := base + jitter
	if d > max {
		d = max
	}
	return time.Duration(d)
}

// Executor runs actions under the retry policy. The callbacks are optional
// observation hooks; they must not mutate the action.
type Executor struct {
	policy Policy
	logger *zap.Logger
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an Executor. A nil logger degrades to a no-op.
func NewExecutor(policy Policy, logger *zap.Logger) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy: policy,
		logger: logger.Named("retry"),
		sleep:  sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute invokes action, retrying classified-retryable failures up to
// maxRetries additional times (1+maxRetries total attempts).
//
// On a retryable failure it calls onError(attempt, err), sleeps for
// Delay(attempt), then calls onRetry(attempt, delay) before the next attempt.
// A non-retryable failure returns immediately after a single attempt, and an
// exhausted budget returns the last error unchanged in both cases.
func (e *Executor) Execute(
	ctx context.Context,
	action func(ctx context.Context) error,
	onRetry func(attempt int, delay time.Duration),
	onError func(attempt int, err error),
	maxRetries int,
) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = action(ctx)
		if lastErr == nil {
			return nil
		}

		class := Classify(lastErr)
		if !class.Retryable() {
			e.logger.Debug("Failure is not retryable, giving up.",
				zap.String("class", string(class)), zap.Error(lastErr))
			return lastErr
		}
		if attempt >= maxRetries {
			e.logger.Debug("Retry budget exhausted.",
				zap.Int("attempts", attempt+1), zap.Error(lastErr))
			return lastErr
		}

		if onError != nil {
			onError(attempt, lastErr)
		}
		delay := e.policy.Delay(attempt)
		e.logger.Debug("Retrying after backoff.",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("class", string(class)))
		if err := e.sleep(ctx, delay); err != nil {
			// Context cancellation during backoff surfaces the original
			// failure; the caller's deadline handling owns the ctx error.
			return lastErr
		}
		if onRetry != nil {
			onRetry(attempt, delay)
		}
	}
}
