package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [version]",
		Short: "Download a version into the cache",
		Long: `Download, verify and unpack a ClickHouse distribution into the cache
without starting it. Without an argument the default version is fetched.
A version that is already cached is not downloaded again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			var v string
			if len(args) == 1 {
				v = args[0]
			}
			entry, err := a.mgr.Fetch(cmd.Context(), "", v)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", entry.Key, entry.Binary)
			return nil
		}),
	}
}
