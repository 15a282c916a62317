package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestWaitReady_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     WaitReadyConfig
		wantErr error
		wantMsg string
	}{
		"zero interval": {
			cfg:     WaitReadyConfig{Timeout: 5 * time.Second, Name: "test-proc"},
			wantErr: ErrIntervalNotPositive,
		},
		"negative interval": {
			cfg:     WaitReadyConfig{Interval: -time.Second, Timeout: 5 * time.Second, Name: "test-proc"},
			wantErr: ErrIntervalNotPositive,
		},
		"zero timeout": {
			cfg:     WaitReadyConfig{Interval: 100 * time.Millisecond, Name: "test-proc"},
			wantErr: ErrTimeoutNotPositive,
		},
		"negative timeout": {
			cfg:     WaitReadyConfig{Interval: 100 * time.Millisecond, Timeout: -time.Second, Name: "test-proc"},
			wantErr: ErrTimeoutNotPositive,
		},
		"empty name": {
			cfg:     WaitReadyConfig{Interval: time.Millisecond, Timeout: time.Second},
			wantMsg: "name must not be empty",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := WaitReady(context.Background(), tc.cfg, func(_ context.Context, _ int) error {
				t.Fatal("check should not be called with invalid config")
				return nil
			})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error = %q, want substring %q", err, tc.wantMsg)
			}
		})
	}
}

func TestWaitReady_ProcessExited(t *testing.T) {
	t.Parallel()

	exited := make(chan struct{})
	close(exited)

	start := time.Now()
	err := WaitReady(context.Background(), WaitReadyConfig{
		Interval:      100 * time.Millisecond,
		Timeout:       10 * time.Second,
		Name:          "test-proc",
		Port:          12345,
		ProcessExited: exited,
	}, func(_ context.Context, _ int) error {
		t.Fatal("readiness check should not have been called")
		return nil
	})

	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("error = %v, want ErrProcessExited", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected fast abort, took %v", elapsed)
	}
}

func TestWaitReady_SucceedsAfterNotReady(t *testing.T) {
	t.Parallel()

	var attempts []int
	err := WaitReady(context.Background(), WaitReadyConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  5 * time.Second,
		Name:     "test-proc",
	}, func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return fmt.Errorf("%w: connection refused", ErrNotReady)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("attempts = %v, want [1 2 3]", attempts)
	}
}

func TestWaitReady_FatalCheckError(t *testing.T) {
	t.Parallel()

	fatal := errors.New("unexpected response body")
	calls := 0
	err := WaitReady(context.Background(), WaitReadyConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  5 * time.Second,
		Name:     "test-proc",
	}, func(_ context.Context, _ int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("error = %v, want %v", err, fatal)
	}
	if errors.Is(err, ErrReadinessTimeout) {
		t.Error("fatal error must not be reported as a timeout")
	}
	if calls != 1 {
		t.Errorf("check called %d times, want 1", calls)
	}
}

func TestWaitReady_TimeoutCarriesLastError(t *testing.T) {
	t.Parallel()

	err := WaitReady(context.Background(), WaitReadyConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Name:     "clickhouse",
		Port:     9000,
	}, func(_ context.Context, attempt int) error {
		return fmt.Errorf("%w: attempt %d: connection refused", ErrNotReady, attempt)
	})
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("error = %v, want ErrReadinessTimeout", err)
	}
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want last not-ready reason attached", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error %q missing last reason", err)
	}
}

func TestWaitReady_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitReady(ctx, WaitReadyConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  5 * time.Second,
		Name:     "test-proc",
	}, func(_ context.Context, _ int) error {
		return ErrNotReady
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrReadinessTimeout) {
		t.Errorf("caller cancellation reported as timeout: %v", err)
	}
	if !errors.Is(err, ErrReadinessInterrupted) || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want ErrReadinessInterrupted wrapping context.Canceled", err)
	}
}

func TestWaitReady_ExpiredProbeKeepsLastReason(t *testing.T) {
	t.Parallel()

	// The check blocks until its context ends, so the final attempt is
	// always cut short by the deadline.
	err := WaitReady(context.Background(), WaitReadyConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		Name:     "clickhouse",
		Port:     8123,
	}, func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return fmt.Errorf("%w: ping returned 500", ErrNotReady)
		}
		<-ctx.Done()
		return fmt.Errorf("%w: dial: %w", ErrNotReady, ctx.Err())
	})
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("error = %v, want ErrReadinessTimeout", err)
	}
	if !strings.Contains(err.Error(), "ping returned 500") {
		t.Errorf("error %q lost the last real probe reason", err)
	}
}
