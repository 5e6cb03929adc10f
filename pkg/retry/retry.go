package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration. The policy is deliberately simple:
// a capped number of attempts with a fixed delay between them. A
// Retryable predicate decides which errors are worth another attempt;
// a nil predicate retries everything.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// DefaultConfig returns the policy used for call placement: three
// attempts, two seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// Do executes fn up to cfg.MaxAttempts times, waiting cfg.Delay between
// attempts. It returns nil on the first success, the terminal error as
// soon as Retryable rejects it, or the last error once attempts are
// exhausted. Context cancellation aborts both execution and waiting.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(cfg.Delay):
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
