// Command chenv manages the ClickHouse download cache and runs throwaway
// servers from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/giantswarm/chenv/cmd/chenv/cmd"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmd.NewRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
