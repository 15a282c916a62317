package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newVersionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List known ClickHouse versions for this platform",
		Long: `List the built-in versions plus those of the configured index,
newest first. The CACHED column shows whether a version can start offline.`,
		Args: cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			infos, err := a.mgr.Versions(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tCHANNEL\tCACHED\tURL")
			for _, info := range infos {
				cached := "no"
				if info.Cached {
					cached = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Version, info.Channel, cached, info.URL)
			}
			return w.Flush()
		}),
	}
}
