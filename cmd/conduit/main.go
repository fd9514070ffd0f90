// Command conduit validates, previews, explains and runs the chains of a
// document.
//
//	conduit validate -c orders.json
//	conduit preview -c orders.json big_orders
//	conduit explain -c orders.json big_orders
//	conduit run -c orders.json big_orders --to sqlite --dsn out.db --table orders --create
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	// Register every source connector; documents choose the kinds they use.
	_ "conduit/internal/source/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Lazy, streaming data transformations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringP("config", "c", "conduit.json", "document path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("metrics-backend", "", "metrics backend, overrides the document (none, pushgateway, datadog)")
	addCommands(root)
	return root
}
