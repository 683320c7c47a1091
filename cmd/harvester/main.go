package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Sports statistics ingestion pipeline",
	Long: `harvester fetches box scores and game records from the configured providers,
archives the raw payloads, validates them and writes the records to the sink.

Configuration is read from the environment (APP_*, PIPELINE_*, RECONCILE_*,
SOURCES and SOURCE_<ID>_*).`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd(), reconcileCmd(), migrateCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
