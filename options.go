package chenv

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("chenv: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("chenv: %s must not be empty", name))
	}
}

// ManagerOption configures a Manager during construction via NewManager.
// Each With* function returns a ManagerOption that sets a specific field.
//
// Several With* functions panic on invalid input (empty paths, non-positive
// durations or counts). Option values are typically constants, so an invalid
// value is a programmer error. The pattern mirrors [regexp.MustCompile].
type ManagerOption func(*managerConfig)

// WithCacheDir sets the directory holding downloaded distributions. The
// cache is shared between processes and safe for concurrent use.
//
// Default: DefaultCacheDir().
//
// Panics if dir is empty.
func WithCacheDir(dir string) ManagerOption {
	requireNonEmpty("cache directory", dir)
	return func(c *managerConfig) {
		c.CacheDir = dir
	}
}

// WithBaseDataDir sets the base directory for instance data directories.
// Useful in CI environments where several projects run servers at once.
// If not set, defaults to $TMPDIR/chenv.
// Panics if dir is empty.
func WithBaseDataDir(dir string) ManagerOption {
	requireNonEmpty("base data directory", dir)
	return func(c *managerConfig) {
		c.BaseDataDir = dir
	}
}

// WithDefaultVersion sets the version started when WithVersion is not
// given. It accepts everything WithVersion accepts.
//
// Default: DefaultVersion.
//
// Panics if v is empty.
func WithDefaultVersion(v string) ManagerOption {
	requireNonEmpty("default version", v)
	return func(c *managerConfig) {
		c.DefaultVersion = v
	}
}

// WithBaseURL replaces the release download location, for mirrors and
// air-gapped hosts. Archives are expected under the same relative paths as
// on the official location.
// Panics if url is empty.
func WithBaseURL(url string) ManagerOption {
	requireNonEmpty("base URL", url)
	return func(c *managerConfig) {
		c.BaseURL = url
	}
}

// WithIndex loads additional versions from a YAML index, given as a file
// path or an http(s) URL. Entries override built-in versions of the same
// name. The index is loaded on first use.
// Panics if source is empty.
func WithIndex(source string) ManagerOption {
	requireNonEmpty("version index", source)
	return func(c *managerConfig) {
		c.IndexSource = source
	}
}

// WithPlatform resolves versions for platform ("linux/amd64", ...) instead
// of the running one. Only Fetch and ImportBinary are meaningful for a
// foreign platform.
// Panics if platform is empty.
func WithPlatform(platform string) ManagerOption {
	requireNonEmpty("platform", platform)
	return func(c *managerConfig) {
		c.Platform = platform
	}
}

// WithStartTimeout bounds launch and readiness of one server. Downloads
// are bounded by WithDownloadTimeout instead.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithStartTimeout(d time.Duration) ManagerOption {
	requirePositive("start timeout", d)
	return func(c *managerConfig) {
		c.StartTimeout = d
	}
}

// WithStopTimeout sets the grace period between SIGTERM and SIGKILL when an
// instance stops.
//
// Default: 10 seconds.
//
// Panics if d <= 0.
func WithStopTimeout(d time.Duration) ManagerOption {
	requirePositive("stop timeout", d)
	return func(c *managerConfig) {
		c.StopTimeout = d
	}
}

// WithDownloadTimeout bounds one distribution download, retries included.
//
// Default: 10 minutes.
//
// Panics if d <= 0.
func WithDownloadTimeout(d time.Duration) ManagerOption {
	requirePositive("download timeout", d)
	return func(c *managerConfig) {
		c.DownloadTimeout = d
	}
}

// WithMaxPortRetries sets how often a start is tried with fresh ports when
// the server loses the race for one of its ports.
//
// Default: 3.
//
// Panics if n <= 0.
func WithMaxPortRetries(n int) ManagerOption {
	requirePositive("max port retries", n)
	return func(c *managerConfig) {
		c.MaxPortRetries = n
	}
}

// WithFetchRetry sets how often a transiently failing download is tried and
// the first backoff, which doubles on every retry.
//
// Default: 3 attempts, 500ms.
//
// Panics if attempts <= 0 or initial <= 0.
func WithFetchRetry(attempts int, initial time.Duration) ManagerOption {
	requirePositive("fetch retry attempts", attempts)
	requirePositive("fetch retry backoff", initial)
	return func(c *managerConfig) {
		c.Retry.Attempts = attempts
		c.Retry.Initial = initial
	}
}

// WithHTTPClient sets the client used for downloads and remote indexes.
// Panics if client is nil.
func WithHTTPClient(client *http.Client) ManagerOption {
	if client == nil {
		panic("chenv: HTTP client must not be nil")
	}
	return func(c *managerConfig) {
		c.HTTPClient = client
	}
}

// WithServerLogLevel sets the ClickHouse logger level ("warning", "debug", ...).
//
// Default: "warning".
//
// Panics if level is empty.
func WithServerLogLevel(level string) ManagerOption {
	requireNonEmpty("server log level", level)
	return func(c *managerConfig) {
		c.LogLevel = level
	}
}

// WithSettings adds server settings applied to every start. Keys are
// ClickHouse configuration element names; per-start settings of the same
// key win. Repeated calls merge.
func WithSettings(settings map[string]string) ManagerOption {
	settings = maps.Clone(settings)
	return func(c *managerConfig) {
		if c.Settings == nil {
			c.Settings = make(map[string]string, len(settings))
		}
		maps.Copy(c.Settings, settings)
	}
}

// StartOption configures a single Start call.
type StartOption func(*startConfig)

// WithVersion selects the ClickHouse version: a known version such as
// V25_8, a channel alias such as "latest" or "lts", or an archive URL.
// Panics if v is empty.
func WithVersion(v string) StartOption {
	requireNonEmpty("version", v)
	return func(c *startConfig) {
		c.Version = v
	}
}

// WithSetting sets one server setting for this start, overriding the
// manager's settings of the same key. Invalid or reserved keys fail the
// start.
func WithSetting(key, value string) StartOption {
	return func(c *startConfig) {
		if c.Settings == nil {
			c.Settings = make(map[string]string)
		}
		c.Settings[key] = value
	}
}

// WithInstanceSettings sets several server settings for this start.
func WithInstanceSettings(settings map[string]string) StartOption {
	settings = maps.Clone(settings)
	return func(c *startConfig) {
		if c.Settings == nil {
			c.Settings = make(map[string]string, len(settings))
		}
		maps.Copy(c.Settings, settings)
	}
}

// WithInstanceStartTimeout overrides the manager's start timeout.
// Panics if d <= 0.
func WithInstanceStartTimeout(d time.Duration) StartOption {
	requirePositive("instance start timeout", d)
	return func(c *startConfig) {
		c.StartTimeout = d
	}
}

// WithInstanceStopTimeout overrides the manager's stop timeout.
// Panics if d <= 0.
func WithInstanceStopTimeout(d time.Duration) StartOption {
	requirePositive("instance stop timeout", d)
	return func(c *startConfig) {
		c.StopTimeout = d
	}
}

// WithDataDir runs the server in dir instead of a fresh directory. The
// directory is created if needed and kept after Stop, so its databases
// survive restarts.
// Panics if dir is empty.
func WithDataDir(dir string) StartOption {
	requireNonEmpty("data directory", dir)
	return func(c *startConfig) {
		c.DataDir = dir
	}
}

// WithLogWriter copies the server's stdout and stderr to w in addition to
// the log files in the data directory.
// Panics if w is nil.
func WithLogWriter(w io.Writer) StartOption {
	if w == nil {
		panic("chenv: log writer must not be nil")
	}
	return func(c *startConfig) {
		c.Output = w
	}
}

// WithInstanceCacheDir takes the distribution from dir instead of the
// manager's cache directory.
// Panics if dir is empty.
func WithInstanceCacheDir(dir string) StartOption {
	requireNonEmpty("instance cache directory", dir)
	return func(c *startConfig) {
		c.CacheDir = dir
	}
}

// WithBinary runs the ClickHouse executable at path, bypassing resolution
// and the cache. WithVersion then only labels the instance.
// Panics if path is empty.
func WithBinary(path string) StartOption {
	requireNonEmpty("binary path", path)
	return func(c *startConfig) {
		c.Binary = path
	}
}
