package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/chenv/internal/sentinel"
)

// Sentinel errors returned by WaitReady.
const (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = sentinel.Error("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = sentinel.Error("timeout must be positive")

	// ErrProcessExited indicates the process exited before becoming ready.
	ErrProcessExited = sentinel.Error("process exited before becoming ready")

	// ErrReadinessTimeout indicates the deadline passed without a ready probe.
	ErrReadinessTimeout = sentinel.Error("readiness timeout")

	// ErrNotReady is wrapped by checks that want polling to continue.
	ErrNotReady = sentinel.Error("not ready")

	// ErrReadinessInterrupted indicates the caller's context ended while
	// waiting. The context error is wrapped as well.
	ErrReadinessInterrupted = sentinel.Error("readiness wait interrupted")
)

// ReadinessCheck probes a process once. The attempt parameter is 1-based.
// It returns nil when ready, an error wrapping ErrNotReady to keep polling,
// and any other error to abort.
type ReadinessCheck func(ctx context.Context, attempt int) error

// WaitReadyConfig configures the wait behavior.
type WaitReadyConfig struct {
	Interval      time.Duration   // Poll interval
	Timeout       time.Duration   // Overall timeout
	Name          string          // For logging and errors
	Port          int             // For logging context
	Logger        *slog.Logger    // Optional, defaults to slog.Default()
	ProcessExited <-chan struct{} // If non-nil, abort as soon as it is closed
}

// WaitReady polls check until it succeeds, fails fatally, the process exits
// or cfg.Timeout elapses. On timeout the error wraps ErrReadinessTimeout and
// carries the last not-ready reason.
func WaitReady(ctx context.Context, cfg WaitReadyConfig, check ReadinessCheck) error {
	if cfg.Name == "" {
		return errors.New("wait ready: name must not be empty")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrTimeoutNotPositive)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// PollUntilContextTimeout calls the condition sequentially, so attempt
	// and lastErr need no locking.
	attempt := 0
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if cfg.ProcessExited != nil {
				select {
				case <-cfg.ProcessExited:
					return false, fmt.Errorf("process %s: %w", cfg.Name, ErrProcessExited)
				default:
				}
			}

			attempt++
			err := check(pollCtx, attempt)
			switch {
			case err != nil && pollCtx.Err() != nil:
				// Probe cut short by the deadline; its error says nothing
				// about the server.
				return false, nil
			case err == nil:
				log.Debug("wait succeeded", "name", cfg.Name, "port", cfg.Port, "attempt", attempt)
				return true, nil
			case errors.Is(err, ErrNotReady):
				lastErr = err
				return false, nil
			default:
				return false, err
			}
		})
	if err == nil {
		return nil
	}
	if wait.Interrupted(err) && ctx.Err() == nil {
		if lastErr != nil {
			return fmt.Errorf("%w: %s on port %d not ready after %s (%d attempts): %w",
				ErrReadinessTimeout, cfg.Name, cfg.Port, cfg.Timeout, attempt, lastErr)
		}
		return fmt.Errorf("%w: %s on port %d not ready after %s",
			ErrReadinessTimeout, cfg.Name, cfg.Port, cfg.Timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s on port %d after %d attempts: %w",
			ErrReadinessInterrupted, cfg.Name, cfg.Port, attempt, ctxErr)
	}
	return fmt.Errorf("wait for %s readiness on port %d: %w", cfg.Name, cfg.Port, err)
}
