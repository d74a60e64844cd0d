package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// RetryConfig bounds a retried operation such as a submission.
type RetryConfig struct {
	// MaxAttempts counts calls to the operation, the first one included.
	// Default: 3
	MaxAttempts int

	// Delay spaces the attempts. Its MaxAttempts is not consulted.
	// Default: 500ms doubling up to 5s
	Delay Config

	// Jitter widens each delay by up to this fraction in either direction.
	// Default: 0.1
	Jitter float64

	// Retryable decides whether a failed attempt is retried.
	// Default: core.IsTransient
	Retryable func(error) bool
}

// DefaultRetryConfig returns the default configuration for submission retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       Config{Base: 500 * time.Millisecond, Max: 5 * time.Second},
		Jitter:      0.1,
		Retryable:   core.IsTransient,
	}
}

// Retry calls operation until it succeeds, fails permanently or runs out of
// attempts, and returns the last error. Context errors and errors wrapped
// with core.NoRetry end it at once; a NoRetry wrapper is removed.
func Retry(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error) error {
	attempts := max(config.MaxAttempts, 1)
	retryable := config.Retryable
	if retryable == nil {
		retryable = core.IsTransient
	}

	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var noRetry *core.NoRetryError
		if errors.As(err, &noRetry) {
			return noRetry.Err
		}
		if attempt >= attempts || !retryable(err) {
			return err
		}
		if werr := Wait(ctx, config.jittered(config.Delay.NextDelay(attempt))); werr != nil {
			return werr
		}
	}
}

func (c RetryConfig) jittered(d time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return d
	}
	j := time.Duration(float64(d) * c.Jitter * (rand.Float64()*2 - 1))
	if d+j < 0 {
		return d
	}
	return d + j
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
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
