package resilience

import (
	"context"
	"log/slog"
	"time"
)

// Default retry parameters: one extra attempt after a short hardware release
// delay.
const (
	defaultRetries    = 1
	defaultRetryDelay = 100 * time.Millisecond
)

// RetryConfig configures [Retry].
type RetryConfig struct {
	// Name is a label used in log messages.
	Name string

	// Retries is the number of additional attempts after the first failure.
	// Defaults to 1 if zero.
	Retries int

	// Delay is the fixed wait before each retry. Defaults to 100ms if zero.
	Delay time.Duration

	// Retryable reports whether an error is transient. Non-retryable errors
	// are returned immediately. Nil treats every error as non-retryable.
	Retryable func(error) bool
}

// Retry calls fn, retrying up to cfg.Retries more times after cfg.Delay while
// the returned error is retryable. It returns the last error, or ctx.Err() if
// the context ends while waiting.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	err := fn()
	for attempt := 1; err != nil && attempt <= retries; attempt++ {
		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return err
		}
		slog.Warn("transient failure, retrying",
			"name", cfg.Name,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err = fn()
	}
	return err
}
