package chenv_test

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/giantswarm/chenv"
)

// panicTestCase defines a test case for option validation panic tests.
type panicTestCase struct {
	name     string
	panics   bool
	panicMsg string
	fn       func()
}

// requirePanics calls fn and verifies it panics (or not) with the expected message.
func requirePanics(t *testing.T, shouldPanic bool, wantMsg string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if shouldPanic && r == nil {
			t.Fatal("expected panic but didn't get one")
		}
		if !shouldPanic && r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
		if shouldPanic && r != nil {
			msg := fmt.Sprint(r)
			if msg != wantMsg {
				t.Fatalf("expected panic message %q, got %q", wantMsg, msg)
			}
		}
	}()
	fn()
}

// runPanicTests runs a slice of panic test cases using requirePanics.
func runPanicTests(t *testing.T, tests []panicTestCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			requirePanics(t, tt.panics, tt.panicMsg, tt.fn)
		})
	}
}

func TestDurationOptionsPanicOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "start_timeout_zero",
			panics:   true,
			panicMsg: "chenv: start timeout must be greater than 0, got 0s",
			fn:       func() { chenv.WithStartTimeout(0) },
		},
		{
			name:     "start_timeout_negative",
			panics:   true,
			panicMsg: "chenv: start timeout must be greater than 0, got -1s",
			fn:       func() { chenv.WithStartTimeout(-1 * time.Second) },
		},
		{
			name:     "stop_timeout_zero",
			panics:   true,
			panicMsg: "chenv: stop timeout must be greater than 0, got 0s",
			fn:       func() { chenv.WithStopTimeout(0) },
		},
		{
			name:     "download_timeout_zero",
			panics:   true,
			panicMsg: "chenv: download timeout must be greater than 0, got 0s",
			fn:       func() { chenv.WithDownloadTimeout(0) },
		},
		{
			name:     "instance_start_timeout_negative",
			panics:   true,
			panicMsg: "chenv: instance start timeout must be greater than 0, got -1ms",
			fn:       func() { chenv.WithInstanceStartTimeout(-time.Millisecond) },
		},
		{
			name:     "instance_stop_timeout_zero",
			panics:   true,
			panicMsg: "chenv: instance stop timeout must be greater than 0, got 0s",
			fn:       func() { chenv.WithInstanceStopTimeout(0) },
		},
		{name: "start_timeout_valid", fn: func() { chenv.WithStartTimeout(time.Second) }},
		{name: "instance_stop_timeout_valid", fn: func() { chenv.WithInstanceStopTimeout(time.Second) }},
	})
}

func TestCountOptionsPanicOnInvalid(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "max_port_retries_zero",
			panics:   true,
			panicMsg: "chenv: max port retries must be greater than 0, got 0",
			fn:       func() { chenv.WithMaxPortRetries(0) },
		},
		{
			name:     "fetch_retry_attempts_zero",
			panics:   true,
			panicMsg: "chenv: fetch retry attempts must be greater than 0, got 0",
			fn:       func() { chenv.WithFetchRetry(0, time.Second) },
		},
		{
			name:     "fetch_retry_backoff_zero",
			panics:   true,
			panicMsg: "chenv: fetch retry backoff must be greater than 0, got 0s",
			fn:       func() { chenv.WithFetchRetry(1, 0) },
		},
		{name: "max_port_retries_valid", fn: func() { chenv.WithMaxPortRetries(1) }},
		{name: "fetch_retry_single_attempt", fn: func() { chenv.WithFetchRetry(1, time.Millisecond) }},
	})
}

func TestEmptyStringOptionsPanic(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "cacheDir",
			panics:   true,
			panicMsg: "chenv: cache directory must not be empty",
			fn:       func() { chenv.WithCacheDir("") },
		},
		{
			name:     "baseDataDir",
			panics:   true,
			panicMsg: "chenv: base data directory must not be empty",
			fn:       func() { chenv.WithBaseDataDir("") },
		},
		{
			name:     "defaultVersion",
			panics:   true,
			panicMsg: "chenv: default version must not be empty",
			fn:       func() { chenv.WithDefaultVersion("") },
		},
		{
			name:     "baseURL",
			panics:   true,
			panicMsg: "chenv: base URL must not be empty",
			fn:       func() { chenv.WithBaseURL("") },
		},
		{
			name:     "index",
			panics:   true,
			panicMsg: "chenv: version index must not be empty",
			fn:       func() { chenv.WithIndex("") },
		},
		{
			name:     "platform",
			panics:   true,
			panicMsg: "chenv: platform must not be empty",
			fn:       func() { chenv.WithPlatform("") },
		},
		{
			name:     "serverLogLevel",
			panics:   true,
			panicMsg: "chenv: server log level must not be empty",
			fn:       func() { chenv.WithServerLogLevel("") },
		},
		{
			name:     "version",
			panics:   true,
			panicMsg: "chenv: version must not be empty",
			fn:       func() { chenv.WithVersion("") },
		},
		{
			name:     "dataDir",
			panics:   true,
			panicMsg: "chenv: data directory must not be empty",
			fn:       func() { chenv.WithDataDir("") },
		},
		{
			name:     "instanceCacheDir",
			panics:   true,
			panicMsg: "chenv: instance cache directory must not be empty",
			fn:       func() { chenv.WithInstanceCacheDir("") },
		},
		{
			name:     "binary",
			panics:   true,
			panicMsg: "chenv: binary path must not be empty",
			fn:       func() { chenv.WithBinary("") },
		},
	})
}

func TestNilOptionsPanic(t *testing.T) {
	t.Parallel()
	runPanicTests(t, []panicTestCase{
		{
			name:     "httpClient",
			panics:   true,
			panicMsg: "chenv: HTTP client must not be nil",
			fn:       func() { chenv.WithHTTPClient(nil) },
		},
		{
			name:     "logWriter",
			panics:   true,
			panicMsg: "chenv: log writer must not be nil",
			fn:       func() { chenv.WithLogWriter(nil) },
		},
		{name: "httpClient_valid", fn: func() { chenv.WithHTTPClient(http.DefaultClient) }},
	})
}

func TestOptionApplicationDefaults(t *testing.T) {
	t.Parallel()

	snap := chenv.ApplyOptionsForTesting()
	wantBaseDir := filepath.Join(os.TempDir(), chenv.DefaultBaseDataDirName)

	if snap.CacheDir != chenv.DefaultCacheDir() {
		t.Errorf("CacheDir = %q, want %q", snap.CacheDir, chenv.DefaultCacheDir())
	}
	if snap.BaseDataDir != wantBaseDir {
		t.Errorf("BaseDataDir = %q, want %q", snap.BaseDataDir, wantBaseDir)
	}
	if snap.DefaultVersion != chenv.DefaultVersion {
		t.Errorf("DefaultVersion = %q, want %q", snap.DefaultVersion, chenv.DefaultVersion)
	}
	if snap.BaseURL != chenv.DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", snap.BaseURL, chenv.DefaultBaseURL)
	}
	if snap.StartTimeout != chenv.DefaultStartTimeout {
		t.Errorf("StartTimeout = %v, want %v", snap.StartTimeout, chenv.DefaultStartTimeout)
	}
	if snap.StopTimeout != chenv.DefaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", snap.StopTimeout, chenv.DefaultStopTimeout)
	}
	if snap.DownloadTimeout != chenv.DefaultDownloadTimeout {
		t.Errorf("DownloadTimeout = %v, want %v", snap.DownloadTimeout, chenv.DefaultDownloadTimeout)
	}
	if snap.MaxPortRetries != chenv.DefaultMaxPortRetries {
		t.Errorf("MaxPortRetries = %d, want %d", snap.MaxPortRetries, chenv.DefaultMaxPortRetries)
	}
	if snap.RetryAttempts != chenv.DefaultFetchRetryAttempts {
		t.Errorf("RetryAttempts = %d, want %d", snap.RetryAttempts, chenv.DefaultFetchRetryAttempts)
	}
	if snap.RetryInitial != chenv.DefaultFetchRetryInitial {
		t.Errorf("RetryInitial = %v, want %v", snap.RetryInitial, chenv.DefaultFetchRetryInitial)
	}
	if snap.LogLevel != chenv.DefaultServerLogLevel {
		t.Errorf("LogLevel = %q, want %q", snap.LogLevel, chenv.DefaultServerLogLevel)
	}
	if snap.IndexSource != "" || snap.Platform != "" {
		t.Errorf("IndexSource = %q, Platform = %q, want empty", snap.IndexSource, snap.Platform)
	}
	if snap.HTTPClient != nil {
		t.Error("HTTPClient set by default")
	}
	if snap.Settings != nil {
		t.Errorf("Settings = %v, want nil", snap.Settings)
	}
}

func TestOptionApplicationOverrides(t *testing.T) {
	t.Parallel()

	client := &http.Client{Timeout: time.Minute}

	tests := []struct {
		name   string
		opt    chenv.ManagerOption
		verify func(t *testing.T, snap chenv.ConfigSnapshot)
	}{
		{
			name: "WithCacheDir",
			opt:  chenv.WithCacheDir("/var/cache/ch"),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.CacheDir != "/var/cache/ch" {
					t.Errorf("CacheDir = %q", snap.CacheDir)
				}
			},
		},
		{
			name: "WithDefaultVersion",
			opt:  chenv.WithDefaultVersion(chenv.V25_3),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.DefaultVersion != chenv.V25_3 {
					t.Errorf("DefaultVersion = %q, want %q", snap.DefaultVersion, chenv.V25_3)
				}
			},
		},
		{
			name: "WithBaseURL",
			opt:  chenv.WithBaseURL("https://mirror.example.com/ch"),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.BaseURL != "https://mirror.example.com/ch" {
					t.Errorf("BaseURL = %q", snap.BaseURL)
				}
			},
		},
		{
			name: "WithIndex",
			opt:  chenv.WithIndex("versions.yaml"),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.IndexSource != "versions.yaml" {
					t.Errorf("IndexSource = %q", snap.IndexSource)
				}
			},
		},
		{
			name: "WithPlatform",
			opt:  chenv.WithPlatform("darwin/arm64"),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.Platform != "darwin/arm64" {
					t.Errorf("Platform = %q", snap.Platform)
				}
			},
		},
		{
			name: "WithStartTimeout",
			opt:  chenv.WithStartTimeout(2 * time.Minute),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.StartTimeout != 2*time.Minute {
					t.Errorf("StartTimeout = %v, want 2m", snap.StartTimeout)
				}
			},
		},
		{
			name: "WithStopTimeout",
			opt:  chenv.WithStopTimeout(3 * time.Second),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.StopTimeout != 3*time.Second {
					t.Errorf("StopTimeout = %v, want 3s", snap.StopTimeout)
				}
			},
		},
		{
			name: "WithDownloadTimeout",
			opt:  chenv.WithDownloadTimeout(time.Hour),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.DownloadTimeout != time.Hour {
					t.Errorf("DownloadTimeout = %v, want 1h", snap.DownloadTimeout)
				}
			},
		},
		{
			name: "WithMaxPortRetries",
			opt:  chenv.WithMaxPortRetries(7),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.MaxPortRetries != 7 {
					t.Errorf("MaxPortRetries = %d, want 7", snap.MaxPortRetries)
				}
			},
		},
		{
			name: "WithFetchRetry",
			opt:  chenv.WithFetchRetry(5, 2*time.Second),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.RetryAttempts != 5 || snap.RetryInitial != 2*time.Second {
					t.Errorf("Retry = %d/%v, want 5/2s", snap.RetryAttempts, snap.RetryInitial)
				}
			},
		},
		{
			name: "WithHTTPClient",
			opt:  chenv.WithHTTPClient(client),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.HTTPClient != client {
					t.Error("HTTPClient not applied")
				}
			},
		},
		{
			name: "WithServerLogLevel",
			opt:  chenv.WithServerLogLevel("debug"),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.LogLevel != "debug" {
					t.Errorf("LogLevel = %q, want debug", snap.LogLevel)
				}
			},
		},
		{
			name: "WithSettings",
			opt:  chenv.WithSettings(map[string]string{"max_threads": "2"}),
			verify: func(t *testing.T, snap chenv.ConfigSnapshot) {
				t.Helper()
				if snap.Settings["max_threads"] != "2" {
					t.Errorf("Settings = %v", snap.Settings)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			snap := chenv.ApplyOptionsForTesting(tc.opt)
			tc.verify(t, snap)
		})
	}
}

func TestOptionApplicationMultipleOptions(t *testing.T) {
	t.Parallel()

	snap := chenv.ApplyOptionsForTesting(
		chenv.WithCacheDir("/opt/cache"),
		chenv.WithBaseDataDir("/tmp/custom-chenv"),
		chenv.WithStartTimeout(time.Minute),
		chenv.WithSettings(map[string]string{"a": "1"}),
		chenv.WithSettings(map[string]string{"b": "2"}),
	)

	if snap.CacheDir != "/opt/cache" {
		t.Errorf("CacheDir = %q, want %q", snap.CacheDir, "/opt/cache")
	}
	if snap.BaseDataDir != "/tmp/custom-chenv" {
		t.Errorf("BaseDataDir = %q, want %q", snap.BaseDataDir, "/tmp/custom-chenv")
	}
	if snap.StartTimeout != time.Minute {
		t.Errorf("StartTimeout = %v, want 1m", snap.StartTimeout)
	}
	if len(snap.Settings) != 2 || snap.Settings["a"] != "1" || snap.Settings["b"] != "2" {
		t.Errorf("Settings = %v, want a=1 b=2 (merged)", snap.Settings)
	}
}

func TestOptionApplicationLastWriteWins(t *testing.T) {
	t.Parallel()

	snap := chenv.ApplyOptionsForTesting(
		chenv.WithMaxPortRetries(2),
		chenv.WithMaxPortRetries(8),
	)

	if snap.MaxPortRetries != 8 {
		t.Errorf("MaxPortRetries = %d, want 8 (last write wins)", snap.MaxPortRetries)
	}
}

func TestWithSettingsCopiesInput(t *testing.T) {
	t.Parallel()

	in := map[string]string{"max_threads": "2"}
	opt := chenv.WithSettings(in)
	in["max_threads"] = "64"

	if got := chenv.ApplyOptionsForTesting(opt).Settings["max_threads"]; got != "2" {
		t.Errorf("max_threads = %q, want 2 (caller mutation leaked)", got)
	}
}

func TestStartOptionApplication(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	snap := chenv.ApplyStartOptionsForTesting(
		chenv.WithVersion(chenv.Latest),
		chenv.WithSetting("max_threads", "1"),
		chenv.WithInstanceSettings(map[string]string{"max_threads": "4", "mark_cache_size": "1024"}),
		chenv.WithInstanceStartTimeout(time.Minute),
		chenv.WithInstanceStopTimeout(time.Second),
		chenv.WithDataDir("/srv/ch"),
		chenv.WithLogWriter(&out),
		chenv.WithInstanceCacheDir("/srv/cache"),
		chenv.WithBinary("/usr/bin/clickhouse"),
	)

	if snap.Version != chenv.Latest {
		t.Errorf("Version = %q, want %q", snap.Version, chenv.Latest)
	}
	if snap.Settings["max_threads"] != "4" || snap.Settings["mark_cache_size"] != "1024" {
		t.Errorf("Settings = %v", snap.Settings)
	}
	if snap.StartTimeout != time.Minute || snap.StopTimeout != time.Second {
		t.Errorf("timeouts = %v/%v", snap.StartTimeout, snap.StopTimeout)
	}
	if snap.DataDir != "/srv/ch" || snap.CacheDir != "/srv/cache" || snap.Binary != "/usr/bin/clickhouse" {
		t.Errorf("DataDir = %q, CacheDir = %q, Binary = %q", snap.DataDir, snap.CacheDir, snap.Binary)
	}
	if snap.Output != &out {
		t.Error("Output not applied")
	}
}
