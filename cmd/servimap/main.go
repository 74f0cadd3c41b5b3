// Command servimap runs the ServiMap marketplace API and its operator tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "servimap",
		Short: "ServiMap home-services marketplace",
		Long: `ServiMap connects customers with home-service providers for scheduled
bookings and urgent emergency requests.

Configuration is read from SERVIMAP_* environment variables and an optional
.env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd(), newCatalogCmd())
	return root
}
