package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version is set during build
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "dbtune",
	Short: "Adaptive database performance monitor",
	Long: `dbtune watches query, cache, batching and connection-pool behavior for a
database and serves live reports, tuning recommendations and Prometheus
metrics over HTTP. Flags can also be set as environment variables with a
DBTUNE_ prefix (e.g. DBTUNE_LISTEN=:9090).`,
	Version: Version,
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
