package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the distribution cache",
	}
	cmd.AddCommand(
		newCacheListCmd(a),
		newCachePruneCmd(a),
		newCacheImportCmd(a),
		newCacheDirCmd(a),
	)
	return cmd
}

func newCacheListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached distributions, most recently used first",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			entries, err := a.mgr.ListCache(cmd.Context(), "")
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSOURCE\tUSES\tLAST USED\tINSTALLED")
			for _, e := range entries {
				lastUsed := "never"
				if !e.LastUsed.IsZero() {
					lastUsed = humanize.Time(e.LastUsed)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					e.Key, e.Source, e.Uses, lastUsed, e.InstalledAt.Format(time.DateTime))
			}
			return w.Flush()
		}),
	}
}

func newCachePruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove distributions not used recently",
		Long: `Remove cached distributions that were not started or fetched within
--older-than. Entries being installed by another process are skipped.`,
		Example: `  chenv cache prune --older-than 720h
  chenv cache prune --older-than 0   # remove everything`,
		Args: cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("older-than") {
				return errors.New("--older-than is required")
			}
			removed, err := a.mgr.PruneCache(cmd.Context(), "", olderThan)
			out := cmd.OutOrStdout()
			for _, key := range removed {
				fmt.Fprintf(out, "removed %s\n", key)
			}
			return err
		}),
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum time since last use")
	return cmd
}

func newCacheImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <version> <binary>",
		Short: "Store a local ClickHouse executable as a cached version",
		Long: `Copy a ClickHouse executable into the cache under version, for hosts
without access to the download location. An existing entry for the version
is left unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			entry, err := a.mgr.ImportBinary(cmd.Context(), "", args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", entry.Key, entry.Binary)
			return nil
		}),
	}
}

func newCacheDirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.mgr.Config().CacheDir)
			return nil
		}),
	}
}
