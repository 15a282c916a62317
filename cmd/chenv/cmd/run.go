package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/chenv/internal/core"
)

type runOptions struct {
	settings map[string]string
	dataDir  string
	binary   string
	timeout  time.Duration
	duration time.Duration
	logs     bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [version]",
		Short: "Start a server and keep it running until interrupted",
		Long: `Start a ClickHouse server on free loopback ports, print its
addresses and block until SIGINT or SIGTERM, then stop it and remove its
data directory (unless --data-dir was given).`,
		Example: `  chenv run
  chenv run lts --setting max_threads=2
  chenv run --data-dir ./chdata --for 10m`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			sc := core.StartConfig{
				Settings:     opts.settings,
				StartTimeout: opts.timeout,
				DataDir:      opts.dataDir,
				Binary:       opts.binary,
			}
			if len(args) == 1 {
				sc.Version = args[0]
			}
			if opts.logs {
				sc.Output = cmd.ErrOrStderr()
			}

			ctx := cmd.Context()
			inst, err := a.mgr.Start(ctx, sc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:   %s\n", inst.Version())
			fmt.Fprintf(out, "dsn:       %s\n", inst.DSN())
			fmt.Fprintf(out, "http:      %s\n", inst.HTTPURL())
			fmt.Fprintf(out, "data dir:  %s\n", inst.DataDir())
			fmt.Fprintf(out, "pid:       %d\n", inst.Pid())

			var timeout <-chan time.Time
			if opts.duration > 0 {
				timer := time.NewTimer(opts.duration)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case <-ctx.Done():
			case <-timeout:
			}

			return inst.Stop()
		}),
	}

	flags := cmd.Flags()
	flags.StringToStringVar(&opts.settings, "setting", nil, "server setting key=value (repeatable)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "persistent data directory, kept after exit")
	flags.StringVar(&opts.binary, "binary", "", "run this ClickHouse executable instead of a cached one")
	flags.DurationVar(&opts.timeout, "start-timeout", 0, "override the configured start timeout")
	flags.DurationVar(&opts.duration, "for", 0, "stop after this long (0 waits for a signal)")
	flags.BoolVar(&opts.logs, "logs", false, "copy server output to stderr")
	return cmd
}
