package chenv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/giantswarm/chenv/internal/fetch"
	"github.com/giantswarm/chenv/internal/server"
	"github.com/giantswarm/chenv/internal/version"
)

// Default configuration values for NewManager.
const (
	// DefaultVersion is started when no version is given.
	DefaultVersion = version.Default

	// DefaultBaseURL is the official ClickHouse release download location.
	DefaultBaseURL = version.DefaultBaseURL

	// DefaultStartTimeout bounds launch and readiness of one server.
	// Downloads are bounded separately by DefaultDownloadTimeout.
	DefaultStartTimeout = 30 * time.Second

	// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL.
	DefaultStopTimeout = 10 * time.Second

	// DefaultDownloadTimeout bounds one distribution download, retries
	// included. ClickHouse archives are a few hundred megabytes.
	DefaultDownloadTimeout = 10 * time.Minute

	// DefaultMaxPortRetries is how often a start is retried with new ports
	// when the server loses the race for one of its allocated ports.
	DefaultMaxPortRetries = server.DefaultMaxPortRetries

	// DefaultFetchRetryAttempts is how often a download is tried when it
	// fails transiently.
	DefaultFetchRetryAttempts = fetch.DefaultRetryAttempts

	// DefaultFetchRetryInitial is the first backoff between download
	// attempts. It doubles on every retry.
	DefaultFetchRetryInitial = fetch.DefaultRetryInitial

	// DefaultServerLogLevel is the ClickHouse logger level.
	DefaultServerLogLevel = server.DefaultLogLevel

	// DefaultBaseDataDirName is the directory under the system temp
	// directory where per-instance data directories are created.
	DefaultBaseDataDirName = "chenv"

	// DefaultCacheDirName is the directory under the user cache directory
	// holding downloaded distributions.
	DefaultCacheDirName = "chenv"
)

// DefaultCacheDir returns $XDG_CACHE_HOME/chenv, else ~/.cache/chenv. When
// neither can be determined it falls back to a directory under the system
// temp directory.
func DefaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, DefaultCacheDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", DefaultCacheDirName)
	}
	return filepath.Join(os.TempDir(), DefaultCacheDirName+"-cache")
}
