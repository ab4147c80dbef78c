package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"republic/internal/logging"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts int           // Total attempts including the first (default: 3)
	BaseDelay   time.Duration // Base delay for exponential backoff (default: 1s)
	MaxDelay    time.Duration // Maximum delay between attempts (default: 10s)
	Jitter      bool          // Add up to 1s of random delay (default: true)

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0,1) for jitter. Defaults to math/rand/v2.
	Rand func() float64
	// Logger receives attempt diagnostics. Defaults to a component logger.
	Logger logging.Logger
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

const maxJitter = time.Second

// RetryEvent describes a failed attempt that is about to be retried.
type RetryEvent struct {
	Attempt int           // 1-based number of the attempt that failed
	Delay   time.Duration // Wait before the next attempt
	Err     error
	Code    Code
}

// RetryResult reports the outcome of WithRetry.
type RetryResult[T any] struct {
	Success    bool
	Value      T
	Attempts   int
	TotalDelay time.Duration
	LastErr    error
}

// WithRetry runs fn until it succeeds, fails with a non-retry-able error, or
// runs out of attempts.
//
// Exhaustion is reported through RetryResult (Success false, LastErr set) with
// a nil error. A non-retry-able failure or context cancellation is returned
// as the error immediately. onRetry, when set, is called before each sleep.
func WithRetry[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), onRetry func(RetryEvent)) (RetryResult[T], error) {
	config = config.normalized()
	logger := config.Logger

	var result RetryResult[T]
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Debug("Context cancelled, stopping retries")
			result.LastErr = err
			return result, fmt.Errorf("context cancelled: %w", err)
		}

		result.Attempts = attempt + 1
		value, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			result.Success = true
			result.Value = value
			result.LastErr = nil
			return result, nil
		}

		result.LastErr = err
		logger.Debug("Attempt %d/%d failed: %v", attempt+1, config.MaxAttempts, err)

		if !IsRetryable(err) {
			logger.Debug("Error is not retry-able, stopping retries")
			return result, err
		}

		// Don't sleep after last attempt
		if attempt == config.MaxAttempts-1 {
			logger.Warn("Max attempts (%d) exhausted: %v", config.MaxAttempts, err)
			break
		}

		delay := config.Backoff(attempt, retryAfterOf(err))
		if onRetry != nil {
			onRetry(RetryEvent{Attempt: attempt + 1, Delay: delay, Err: err, Code: CodeOf(err)})
		}
		logger.Debug("Waiting %v before next attempt", delay)

		if err := config.Sleep(ctx, delay); err != nil {
			logger.Debug("Context cancelled during backoff")
			return result, fmt.Errorf("context cancelled during retry: %w", err)
		}
		result.TotalDelay += delay
	}

	return result, nil
}

// Backoff returns the wait after the 0-based attempt: base*2^attempt, raised
// to retryAfter, plus jitter, capped at MaxDelay.
func (c RetryConfig) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := time.Duration(math.MaxInt64)
	if multiplier := math.Pow(2, float64(attempt)); float64(c.BaseDelay)*multiplier < float64(math.MaxInt64) {
		delay = time.Duration(float64(c.BaseDelay) * multiplier)
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	if c.MaxDelay > 0 && delay >= c.MaxDelay {
		return c.MaxDelay
	}

	if c.Jitter {
		random := rand.Float64
		if c.Rand != nil {
			random = c.Rand
		}
		delay += time.Duration(random() * float64(maxJitter))
	}

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if logging.IsNil(c.Logger) {
		c.Logger = logging.NewComponentLogger("retry")
	}
	return c
}

func retryAfterOf(err error) time.Duration {
	if toolErr, ok := AsToolError(err); ok {
		return toolErr.RetryAfter
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
