// Package cmd implements the chenv command line.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/giantswarm/chenv/internal/core"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	cacheDir   string
	logLevel   string

	mgr *core.Manager
}

// NewRootCmd returns the chenv command tree. version is printed by
// --version.
func NewRootCmd(version string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "chenv",
		Short: "Manage ClickHouse distributions and throwaway servers",
		Long: `chenv downloads ClickHouse server distributions into a local cache and
starts disposable servers from them.

The cache is shared with the chenv Go library, so fetching a version here
lets tests start it without network access.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "cache directory (default $XDG_CACHE_HOME/chenv)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(
		newVersionsCmd(a),
		newFetchCmd(a),
		newRunCmd(a),
		newCacheCmd(a),
	)
	return root
}

// setup configures logging and builds the manager from defaults, the
// config file and the flags, in that order of precedence.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	core.SetLogger(slog.New(handler).With("component", "chenv"))

	cfg := defaultManagerConfig()
	if a.configPath != "" {
		fc, err := loadFileConfig(a.configPath)
		if err != nil {
			return err
		}
		fc.apply(&cfg)
	}
	if a.cacheDir != "" {
		cfg.CacheDir = a.cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.mgr = core.NewManagerWithConfig(cfg)
	return nil
}

// runE wraps a subcommand so the manager is shut down after it returns,
// whether it failed or not.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if a.mgr != nil {
				err = errors.Join(err, a.mgr.Shutdown())
			}
		}()
		return fn(cmd, args)
	}
}
