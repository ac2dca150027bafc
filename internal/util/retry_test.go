package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	})

	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("expected 1 attempt, got %d (calls %d)", result.Attempts, attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected success, got %v", result.LastError)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	result := Retry(context.Background(), fastConfig(2), func() error {
		return errors.New("timeout")
	})

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", result.LastError)
	}
}

func TestRetry_NoRetry(t *testing.T) {
	boom := errors.New("boom")
	result := Retry(context.Background(), NoRetry(), func() error { return boom })

	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if !errors.Is(result.LastError, boom) || errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("expected the original error only, got %v", result.LastError)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	revert := errors.New("execution reverted")
	result := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		return MarkPermanent(revert)
	})

	if attempts != 1 {
		t.Errorf("permanent error retried %d times", attempts)
	}
	if !errors.Is(result.LastError, revert) {
		t.Errorf("expected wrapped revert, got %v", result.LastError)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastConfig(-1)
	cfg.BaseDelay = time.Second
	result := Retry(ctx, cfg, func() error { return errors.New("unavailable") })

	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", result.LastError)
	}
}

func TestRetryWithValue(t *testing.T) {
	calls := 0
	val, result := RetryWithValue(context.Background(), fastConfig(3), func() (uint64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("rate limited")
		}
		return 42, nil
	})

	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestCalculateDelay_Capped(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	if d := calculateDelay(cfg, 1); d != time.Second {
		t.Errorf("attempt 1 delay = %v", d)
	}
	if d := calculateDelay(cfg, 4); d != 3*time.Second {
		t.Errorf("attempt 4 delay = %v, want cap", d)
	}
}

func TestPoll(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 checks, got %d", calls)
	}
}

func TestPoll_Error(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), time.Millisecond, func() (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestPoll_Deadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := Poll(ctx, time.Millisecond, func() (bool, error) { return false, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
