package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Timeout       time.Duration
	InfiniteRetry bool
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Do stops retrying and returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs operation until it succeeds, returns a Permanent error, the context
// ends, or the retry budget is spent.
func Do[T any](ctx context.Context, config Config, operation func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; config.InfiniteRetry || attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		opCtx, cancel := withTimeout(ctx, config.Timeout)
		result, err := operation(opCtx)
		cancel()

		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Operation failed")

		if !config.InfiniteRetry && attempt >= config.MaxRetries {
			return zero, fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, err)
		}

		delay := Backoff(attempt, config.BaseDelay, config.MaxDelay)
		log.Debug().
			Dur("delay", delay).
			Int("next_attempt", attempt+2).
			Msg("Retrying after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("unexpected: exceeded retry loop")
}

// Run is Do for operations without a result.
func Run(ctx context.Context, config Config, operation func(context.Context) error) error {
	_, err := Do(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Backoff returns base*2^attempt with 0.5x-1.5x jitter, never above maxDelay.
func Backoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	// 2^30 still fits an int on every platform we build for.
	shift := min(attempt, 30)
	delay := time.Duration(1<<shift) * baseDelay
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
