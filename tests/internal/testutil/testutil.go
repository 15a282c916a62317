//go:build integration

// Package testutil provides shared helpers for integration test packages.
package testutil

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/util/retry"

	"github.com/giantswarm/chenv"
	"github.com/giantswarm/chenv/chenvtest"
)

// StartTimeout is generous because the first start of a test binary may
// share the download with other packages running in parallel.
const StartTimeout = 2 * time.Minute

// TestParallel returns the effective -test.parallel value for the current test
// binary. This mirrors Go's own default: if the flag is unset or unparseable,
// it falls back to GOMAXPROCS.
func TestParallel() int {
	f := flag.Lookup("test.parallel")
	if f == nil {
		n := runtime.GOMAXPROCS(0)
		slog.Info("test.parallel flag not found, falling back to GOMAXPROCS", "parallel", n)

		return n
	}

	n, err := strconv.Atoi(f.Value.String())
	if err != nil || n < 1 {
		fallback := runtime.GOMAXPROCS(0)
		slog.Warn("test.parallel flag unparseable, falling back to GOMAXPROCS",
			"raw", f.Value.String(), "error", err, "parallel", fallback)

		return fallback
	}

	return n
}

var (
	instancesOnce  sync.Once
	instancesCount int
)

// StressInstances returns the number of servers the stress test runs at
// once, reading CHENV_STRESS_INSTANCES on first call. Panics if the env var
// is set but invalid.
func StressInstances() int {
	instancesOnce.Do(func() {
		instancesCount = min(TestParallel(), 4)
		if v := os.Getenv("CHENV_STRESS_INSTANCES"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				panic(fmt.Sprintf("invalid CHENV_STRESS_INSTANCES=%q: must be a positive integer", v))
			}

			instancesCount = n
		}
	})

	return instancesCount
}

// isRetryable returns true for connection errors a server that just became
// ready may still produce under load. Used as the predicate for
// retry.OnError in Query.
func isRetryable(err error) bool {
	return utilnet.IsConnectionRefused(err) || utilnet.IsConnectionReset(err)
}

// Query runs sql over the HTTP interface of inst and returns the trimmed
// response body. Connection errors are retried; any other failure fails
// the test.
func Query(ctx context.Context, t *testing.T, inst chenv.Instance, sql string) string {
	t.Helper()

	var body string
	err := retry.OnError(retry.DefaultBackoff, isRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.HTTPURL()+"/", strings.NewReader(sql))
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			// Return error instead of t.Fatalf: Fatalf calls runtime.Goexit, preventing retry.OnError from observing the result.
			return fmt.Errorf("query %q: status %d: %s", sql, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		body = strings.TrimSpace(string(data))
		return nil
	})
	if err != nil {
		t.Fatalf("query on %s: %v", inst.ID(), err)
	}

	return body
}

// SetupAndRun handles the standard TestMain boilerplate: flag parsing, temp
// dir creation, manager creation with WithBaseDataDir and WithStartTimeout
// prepended, test execution, and cleanup. This function calls os.Exit and
// never returns.
func SetupAndRun(m *testing.M, prefix string, opts ...chenv.ManagerOption) {
	flag.Parse()

	tmpDir, err := os.MkdirTemp("", prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	baseOpts := []chenv.ManagerOption{
		chenv.WithBaseDataDir(tmpDir),
		chenv.WithStartTimeout(StartTimeout),
	}
	baseOpts = append(baseOpts, opts...)

	code := chenvtest.RunMain(m, baseOpts...)
	_ = os.RemoveAll(tmpDir)

	os.Exit(code)
}
