package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient error")
	errTerminal  = errors.New("terminal error")
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Delay: 5 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Delay: 5 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_MaxAttemptsExceeded(t *testing.T) {
	cfg := Config{MaxAttempts: 2, Delay: 5 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errTransient
	})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("Expected last error in chain, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestDo_TerminalErrorStopsImmediately(t *testing.T) {
	cfg := Config{
		MaxAttempts: 5,
		Delay:       5 * time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errTerminal
	})

	if !errors.Is(err, errTerminal) {
		t.Errorf("Expected terminal error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Delay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errTransient })

	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Expected cancellation to interrupt the wait")
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Delay: 5 * time.Millisecond}

	attempts := 0
	got, err := DoWithResult(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTransient
		}
		return "peer-7", nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if got != "peer-7" {
		t.Errorf("Expected peer-7, got: %q", got)
	}
}
