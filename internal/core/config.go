package core

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/giantswarm/chenv/internal/fetch"
	"github.com/giantswarm/chenv/internal/server"
	"github.com/giantswarm/chenv/internal/version"
)

// ManagerConfig holds configuration for Manager instances.
//
// All fields are immutable after construction via NewManagerWithConfig.
// Start reads them without synchronization.
type ManagerConfig struct {
	// CacheDir holds downloaded distributions, shared between processes.
	CacheDir string
	// BaseDataDir is where per-instance data directories are created.
	BaseDataDir string

	// DefaultVersion is used when a start does not name one. Empty means
	// the built-in default.
	DefaultVersion string
	// BaseURL replaces the official release download location.
	BaseURL string
	// IndexSource is an optional YAML version index, a path or an URL.
	IndexSource string
	// Platform is "os/arch". Empty means the running platform.
	Platform string

	// StartTimeout bounds launch plus readiness of one server.
	StartTimeout time.Duration
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
	// DownloadTimeout bounds one distribution download including retries.
	DownloadTimeout time.Duration

	// MaxPortRetries is how often a start is tried with fresh ports when the
	// server loses a port race.
	MaxPortRetries int
	// Retry controls transient download retries.
	Retry fetch.RetryPolicy
	// HTTPClient is used for downloads. Nil means a default client.
	HTTPClient *http.Client

	// LogLevel is the ClickHouse server log level.
	LogLevel string
	// Settings are extra server settings applied to every start. Per-start
	// settings with the same key win.
	Settings map[string]string
}

// Validate checks all ManagerConfig invariants and returns an error
// describing every violation found, joined with errors.Join.
//
// Validate is called by NewManagerWithConfig, which panics on error since
// invalid config is a programmer error.
func (c ManagerConfig) Validate() error {
	var errs []error

	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache directory must not be empty"))
	}
	if c.BaseDataDir == "" {
		errs = append(errs, errors.New("base data directory must not be empty"))
	}
	if c.Platform != "" {
		if _, err := version.ParsePlatform(c.Platform); err != nil {
			errs = append(errs, err)
		}
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start timeout must be greater than 0, got %s", c.StartTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout must be greater than 0, got %s", c.StopTimeout))
	}
	if c.DownloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("download timeout must be greater than 0, got %s", c.DownloadTimeout))
	}
	if c.MaxPortRetries <= 0 {
		errs = append(errs, fmt.Errorf("max port retries must be greater than 0, got %d", c.MaxPortRetries))
	}
	if c.Retry.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("retry attempts must be greater than 0, got %d", c.Retry.Attempts))
	}
	if c.Retry.Initial <= 0 {
		errs = append(errs, fmt.Errorf("retry initial backoff must be greater than 0, got %s", c.Retry.Initial))
	}
	if err := server.ValidateSettings(c.Settings); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// StartConfig holds the per-start choices. Zero values fall back to the
// Manager's configuration.
type StartConfig struct {
	// Version is a VersionSpec: empty, "latest", a version or an archive URL.
	Version string
	// Settings are extra server settings for this start.
	Settings map[string]string

	StartTimeout time.Duration
	StopTimeout  time.Duration

	// DataDir is a persistent data directory. It is created if missing and
	// left in place by Stop. Empty means a fresh temporary directory.
	DataDir string
	// Output receives a copy of the server's stdout and stderr.
	Output io.Writer
	// CacheDir overrides ManagerConfig.CacheDir for this start.
	CacheDir string
	// Binary runs this executable directly, skipping resolution and the
	// cache.
	Binary string
}

// Validate checks all StartConfig invariants.
func (c StartConfig) Validate() error {
	var errs []error

	if c.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("start timeout must not be negative, got %s", c.StartTimeout))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("stop timeout must not be negative, got %s", c.StopTimeout))
	}
	if err := server.ValidateSettings(c.Settings); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
