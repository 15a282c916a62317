// Package chenvtest wires chenv into Go tests.
//
// A test package calls RunMain from TestMain so that every server is
// stopped when the tests finish, even when a test forgets to:
//
//	func TestMain(m *testing.M) {
//		os.Exit(chenvtest.RunMain(m, chenv.WithStartTimeout(time.Minute)))
//	}
//
//	func TestQuery(t *testing.T) {
//		t.Parallel()
//		inst := chenvtest.Start(t)
//		db := openDB(t, inst.DSN())
//		...
//	}
package chenvtest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/giantswarm/chenv"
)

// LogLevelEnv selects the slog level used by SetupLogging.
const LogLevelEnv = "CHENV_LOG_LEVEL"

// Start starts a server on the process-level Manager and registers its Stop
// with tb.Cleanup. The test fails immediately if the server cannot start.
//
//nolint:ireturn // Test helper returns Instance matching the public API.
func Start(tb testing.TB, opts ...chenv.StartOption) chenv.Instance {
	tb.Helper()
	return StartContext(context.Background(), tb, opts...)
}

// StartContext is Start with a caller-provided context bounding the start.
//
//nolint:ireturn // Test helper returns Instance matching the public API.
func StartContext(ctx context.Context, tb testing.TB, opts ...chenv.StartOption) chenv.Instance {
	tb.Helper()

	inst, err := chenv.Start(ctx, opts...)
	if err != nil {
		tb.Fatalf("start ClickHouse: %v", err)
	}
	tb.Cleanup(func() {
		if err := inst.Stop(); err != nil {
			tb.Errorf("stop ClickHouse %s: %v", inst.ID(), err)
		}
	})
	return inst
}

// nameCounter is an atomic counter used by UniqueName to generate names
// that are unique across parallel test goroutines.
var nameCounter atomic.Int64

// UniqueName returns a database or table name that is unique across all
// parallel tests of this process. It combines prefix with a monotonically
// increasing counter, so the result is a valid ClickHouse identifier when
// prefix is one.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, nameCounter.Add(1))
}

// SetupLogging configures slog based on the CHENV_LOG_LEVEL environment
// variable. It only affects test runs; the library itself inherits the
// application's logging config.
func SetupLogging() {
	levelStr := os.Getenv(LogLevelEnv)
	if levelStr == "" {
		levelStr = "INFO"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	chenv.SetLogger(slog.Default().With("component", "chenv"))
}

// RunMain creates the process-level Manager with opts, runs the tests and
// shuts the Manager down. On SIGINT or SIGTERM it shuts down and exits
// with status 1; a second signal force-kills. Returns the exit code for
// os.Exit.
func RunMain(m *testing.M, opts ...chenv.ManagerOption) int {
	SetupLogging()
	chenv.DisableSignalHook()
	mgr := chenv.NewManager(opts...)

	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			signal.Stop(sigCh) // Restore default handler so a second signal force-kills
			fmt.Fprintf(os.Stderr, "\nReceived %s, shutting down...\n", sig)
			if err := mgr.Shutdown(); err != nil {
				fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
			}
			chenv.Cleanup()
			os.Exit(1)
		case <-done:
			return
		}
	}()

	code := m.Run()

	signal.Stop(sigCh)
	close(done)
	if err := mgr.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	chenv.Cleanup()

	return code
}
