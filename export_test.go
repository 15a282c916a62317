package chenv

import (
	"io"
	"net/http"
	"time"
)

// ResetForTesting resets the singleton manager state so that the next
// call to NewManager creates a fresh instance. This is exported only
// for use in test packages (package chenv_test).
func ResetForTesting() { resetForTesting() }

// ConfigSnapshot holds a copy of managerConfig fields for test assertions.
// Exported only via export_test.go so that the _test package can verify
// option closures actually mutate the config without accessing internals.
type ConfigSnapshot struct {
	CacheDir        string
	BaseDataDir     string
	DefaultVersion  string
	BaseURL         string
	IndexSource     string
	Platform        string
	StartTimeout    time.Duration
	StopTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxPortRetries  int
	RetryAttempts   int
	RetryInitial    time.Duration
	HTTPClient      *http.Client
	LogLevel        string
	Settings        map[string]string
}

// ApplyOptionsForTesting creates a default managerConfig, applies the given
// options, and returns a ConfigSnapshot of the result. This tests the option
// closures directly without touching the singleton.
func ApplyOptionsForTesting(opts ...ManagerOption) ConfigSnapshot {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return ConfigSnapshot{
		CacheDir:        cfg.CacheDir,
		BaseDataDir:     cfg.BaseDataDir,
		DefaultVersion:  cfg.DefaultVersion,
		BaseURL:         cfg.BaseURL,
		IndexSource:     cfg.IndexSource,
		Platform:        cfg.Platform,
		StartTimeout:    cfg.StartTimeout,
		StopTimeout:     cfg.StopTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		MaxPortRetries:  cfg.MaxPortRetries,
		RetryAttempts:   cfg.Retry.Attempts,
		RetryInitial:    cfg.Retry.Initial,
		HTTPClient:      cfg.HTTPClient,
		LogLevel:        cfg.LogLevel,
		Settings:        cfg.Settings,
	}
}

// StartSnapshot holds a copy of startConfig fields for test assertions.
type StartSnapshot struct {
	Version      string
	Settings     map[string]string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	DataDir      string
	Output       io.Writer
	CacheDir     string
	Binary       string
}

// ApplyStartOptionsForTesting applies StartOptions to an empty startConfig.
func ApplyStartOptionsForTesting(opts ...StartOption) StartSnapshot {
	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return StartSnapshot{
		Version:      cfg.Version,
		Settings:     cfg.Settings,
		StartTimeout: cfg.StartTimeout,
		StopTimeout:  cfg.StopTimeout,
		DataDir:      cfg.DataDir,
		Output:       cfg.Output,
		CacheDir:     cfg.CacheDir,
		Binary:       cfg.Binary,
	}
}
