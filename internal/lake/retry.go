package lake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/rickgao/marketlake/internal/errs"
)

// RetryConfig bounds optimistic-conflict retries.
type RetryConfig struct {
	MaxAttempts   uint64        // Total attempts including the first
	BaseDelay     time.Duration // First backoff delay
	MaxDelay      time.Duration // Backoff cap
	JitterPercent uint64        // +/- jitter applied to each delay

	// OnConflict is called before each retry (metrics hook). Optional.
	OnConflict func(op string, attempt uint64)
}

// DefaultRetryConfig returns defaults for conflict retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   8,
		BaseDelay:     50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		JitterPercent: 20,
	}
}

// RetryConflicts runs fn, retrying it from the start while it fails with
// ErrConflict. fn must redo its whole read-modify-write cycle. Other errors
// are returned immediately. Exhausted retries return an errs.ConcurrencyConflict.
func RetryConflicts(ctx context.Context, cfg RetryConfig, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRetryConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}

	b := retry.NewExponential(cfg.BaseDelay)
	b = retry.WithCappedDuration(cfg.MaxDelay, b)
	if cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(cfg.JitterPercent, b)
	}
	b = retry.WithMaxRetries(cfg.MaxAttempts-1, b)

	var attempt uint64
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt < cfg.MaxAttempts {
			logger.Warn("lake write conflict, retrying", "op", op, "attempt", attempt)
			if cfg.OnConflict != nil {
				cfg.OnConflict(op, attempt)
			}
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) {
		return errs.Wrap(errs.ConcurrencyConflict, op, fmt.Errorf("gave up after %d attempts: %w", attempt, err))
	}
	return err
}
