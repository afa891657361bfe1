package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrRateLimitExhausted is returned once the retry ceiling is reached while still rate limited
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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

// Caller retries remote operations that fail with a rate-limit signal
type Caller struct {
	maxAttempts int
	maxWait     time.Duration
	sleep       Sleeper
	logger      *zap.Logger
}

// NewCaller creates a caller bounded by the retry settings.
// A zero MaxAttempts or MaxWait leaves that bound off.
func NewCaller(settings RetrySettings, sleep Sleeper, logger *zap.Logger) *Caller {
	if sleep == nil {
		sleep = sleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		maxAttempts: settings.MaxAttempts,
		maxWait:     settings.MaxWait.Duration(),
		sleep:       sleep,
		logger:      logger,
	}
}

// Call runs op, sleeping Retry-After plus one second and retrying whenever it is
// rate limited. Any other error is returned immediately.
func Call[T any](ctx context.Context, c *Caller, name string, op func(context.Context) (T, error)) (T, error) {
	var (
		zero   T
		waited time.Duration
	)
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return zero, err
		}

		wait := rl.RetryAfter + time.Second
		if c.maxAttempts > 0 && attempt >= c.maxAttempts {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrRateLimitExhausted, attempt, err)
		}
		if c.maxWait > 0 && waited+wait > c.maxWait {
			return zero, fmt.Errorf("%s: %w after waiting %s: %w", name, ErrRateLimitExhausted, waited, err)
		}

		c.logger.Warn("Rate limited, backing off",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))

		if err := c.sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%s: waiting out rate limit: %w", name, err)
		}
		waited += wait
	}
}

// Do is Call for operations without a result
func Do(ctx context.Context, c *Caller, name string, op func(context.Context) error) error {
	_, err := Call(ctx, c, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
