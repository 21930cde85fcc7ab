package research

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// RETRY WITH EXPONENTIAL BACKOFF
// ============================================================================

// RetryConfig controls per-call retry behavior for provider operations.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig allows one retry after a short backoff. The loop
// degrades rather than retrying indefinitely, so attempts stay low.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// retryable reports whether an error class is worth another attempt.
// Parse errors and bad arguments never are.
func retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderTimeout)
}

// withRetry runs fn up to cfg.MaxAttempts times, backing off between
// attempts. Context cancellation aborts immediately between attempts.
func withRetry[T any](ctx context.Context, cfg RetryConfig, logger *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, lastErr
}
