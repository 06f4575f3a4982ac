package lake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rickgao/marketlake/internal/errs"
)

func fastRetry(attempts uint64) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryConflicts_SucceedsAfterConflicts(t *testing.T) {
	var calls int
	var hooked []uint64
	cfg := fastRetry(5)
	cfg.OnConflict = func(op string, attempt uint64) { hooked = append(hooked, attempt) }

	err := RetryConflicts(context.Background(), cfg, nil, "test.op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("write: %w", ErrConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryConflicts failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(hooked) != 2 {
		t.Errorf("OnConflict calls = %d, want 2", len(hooked))
	}
}

func TestRetryConflicts_Exhausted(t *testing.T) {
	var calls int
	err := RetryConflicts(context.Background(), fastRetry(4), nil, "test.op", func(ctx context.Context) error {
		calls++
		return ErrConflict
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if got := errs.KindOf(err); got != errs.ConcurrencyConflict {
		t.Errorf("KindOf(err) = %v, want %v", got, errs.ConcurrencyConflict)
	}
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want wrapping ErrConflict", err)
	}
}

func TestRetryConflicts_OtherErrorsNotRetried(t *testing.T) {
	boom := errors.New("disk full")
	var calls int
	err := RetryConflicts(context.Background(), fastRetry(5), nil, "test.op", func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryConflicts_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour}
	err := RetryConflicts(ctx, cfg, nil, "test.op", func(ctx context.Context) error {
		return ErrConflict
	})
	if err == nil {
		t.Fatal("expected error on canceled context")
	}
}
