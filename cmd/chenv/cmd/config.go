package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/giantswarm/chenv"
	"github.com/giantswarm/chenv/internal/core"
	"github.com/giantswarm/chenv/internal/fetch"
)

// fileConfig is the TOML configuration file. Keys mirror the manager
// options; durations are strings such as "30s".
//
//	cache_dir = "/var/cache/chenv"
//	default_version = "25.8.16.34-lts"
//	start_timeout = "1m"
//
//	[settings]
//	max_server_memory_usage = "4000000000"
type fileConfig struct {
	CacheDir           string            `toml:"cache_dir"`
	BaseDataDir        string            `toml:"base_data_dir"`
	DefaultVersion     string            `toml:"default_version"`
	BaseURL            string            `toml:"base_url"`
	Index              string            `toml:"index"`
	Platform           string            `toml:"platform"`
	StartTimeout       time.Duration     `toml:"start_timeout"`
	StopTimeout        time.Duration     `toml:"stop_timeout"`
	DownloadTimeout    time.Duration     `toml:"download_timeout"`
	MaxPortRetries     int               `toml:"max_port_retries"`
	FetchRetryAttempts int               `toml:"fetch_retry_attempts"`
	FetchRetryInitial  time.Duration     `toml:"fetch_retry_initial"`
	ServerLogLevel     string            `toml:"server_log_level"`
	Settings           map[string]string `toml:"settings"`
}

// loadFileConfig decodes path. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fileConfig{}, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
	}
	return fc, nil
}

// defaultManagerConfig mirrors the library defaults.
func defaultManagerConfig() core.ManagerConfig {
	return core.ManagerConfig{
		CacheDir:        chenv.DefaultCacheDir(),
		BaseDataDir:     filepath.Join(os.TempDir(), chenv.DefaultBaseDataDirName),
		DefaultVersion:  chenv.DefaultVersion,
		BaseURL:         chenv.DefaultBaseURL,
		StartTimeout:    chenv.DefaultStartTimeout,
		StopTimeout:     chenv.DefaultStopTimeout,
		DownloadTimeout: chenv.DefaultDownloadTimeout,
		MaxPortRetries:  chenv.DefaultMaxPortRetries,
		Retry:           fetch.DefaultRetryPolicy(),
		LogLevel:        chenv.DefaultServerLogLevel,
	}
}

// apply overlays the non-zero fields of fc onto cfg.
func (fc fileConfig) apply(cfg *core.ManagerConfig) {
	setString(&cfg.CacheDir, fc.CacheDir)
	setString(&cfg.BaseDataDir, fc.BaseDataDir)
	setString(&cfg.DefaultVersion, fc.DefaultVersion)
	setString(&cfg.BaseURL, fc.BaseURL)
	setString(&cfg.IndexSource, fc.Index)
	setString(&cfg.Platform, fc.Platform)
	setString(&cfg.LogLevel, fc.ServerLogLevel)
	setNonZero(&cfg.StartTimeout, fc.StartTimeout)
	setNonZero(&cfg.StopTimeout, fc.StopTimeout)
	setNonZero(&cfg.DownloadTimeout, fc.DownloadTimeout)
	setNonZero(&cfg.MaxPortRetries, fc.MaxPortRetries)
	setNonZero(&cfg.Retry.Attempts, fc.FetchRetryAttempts)
	setNonZero(&cfg.Retry.Initial, fc.FetchRetryInitial)
	if len(fc.Settings) > 0 {
		cfg.Settings = fc.Settings
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setNonZero[T int | time.Duration](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}
