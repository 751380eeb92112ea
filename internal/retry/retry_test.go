package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Multiplier:  1,
	}
}

func TestDoWithResult_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", Retryable(errors.New("transient"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestDoWithResult_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("got %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error should not be retried, got %d calls", calls)
	}
}

func TestDoWithResult_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		return 0, Retryable(errors.New("still failing"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestDoWithResult_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DoWithResult(ctx, fastConfig(), func() (int, error) {
		return 0, Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestRetryableUnwraps(t *testing.T) {
	base := errors.New("base")
	wrapped := Retryable(base)
	if !IsRetryable(wrapped) {
		t.Fatal("wrapped error should be retryable")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("wrapped error should unwrap to the base error")
	}
	if IsRetryable(base) {
		t.Fatal("unwrapped error should not be retryable")
	}
	if Retryable(nil) != nil {
		t.Fatal("Retryable(nil) should be nil")
	}
}
