package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexadex/swapflow/pkg/errors"
)

// RetryPolicy describes the exponential backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the documented defaults: 3 attempts,
// 1 s base, doubling, capped at 4 s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    4 * time.Second,
	}
}

// Delay returns the backoff before attempt n+1, i.e. after the n-th failed
// attempt (n starts at 1): min(base * multiplier^(n-1), max).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= time.Duration(p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry replays fn while it returns retryable classified errors, sleeping
// the backoff delay between attempts. Non-retryable errors and context
// cancellation stop the loop immediately. SYSTEM errors are additionally
// published on bus when one is supplied.
func Retry(ctx context.Context, logger *zap.Logger, policy RetryPolicy, bus *errors.Bus, op string, fn func(context.Context) error) error {
	var lastErr *errors.Error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = errors.Classify(err)
		if lastErr.Kind == errors.KindSystem && bus != nil {
			bus.Publish(lastErr)
		}
		if !lastErr.Retryable {
			logger.Warn("non-retryable failure",
				zap.String("op", op),
				zap.String("kind", string(lastErr.Kind)),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.Delay(attempt)
		logger.Warn("retryable failure, backing off",
			zap.String("op", op),
			zap.String("kind", string(lastErr.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return errors.NewSystem("retry aborted: %s", ctx.Err()).WithCause(ctx.Err()).NonRetryable()
		case <-time.After(delay):
		}
	}
	logger.Error("retry attempts exhausted",
		zap.String("op", op),
		zap.Int("attempts", policy.MaxAttempts),
		zap.Error(lastErr))
	return lastErr
}
