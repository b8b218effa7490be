package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/fetcher"
	"mspro-labs/sienna-grabber/internal/storage"
	"mspro-labs/sienna-grabber/internal/telemetry"
)

// Exit codes of a failed run.
const (
	ExitFailure = 1
	ExitConfig  = 2
	ExitFetch   = 3
	ExitWrite   = 4
)

var rootCmd = &cobra.Command{
	Use:   "sienna-grabber",
	Short: "Scrape dealer inventory for one model into a CSV",
	Long: `Searches dealer inventory for the model in MODEL within DISTANCE miles of
ZIPCODE and writes the listings, one row per VIN, to OUTPUT_DIR/<model>.csv.

Environment:
  MODEL, ZIPCODE, DISTANCE   the search (required)
  OUTPUT_DIR                 output directory (default "output")
  CONFIG_PATH                site config YAML (default config.yaml if present)
  DB_PATH                    SQLite inventory ledger (optional)
  SYNC_URL                   endpoint to POST the listings to (optional)
  HEADLESS                   run Chrome headless (default true)
  OTEL_EXPORTER_OTLP_ENDPOINT  export traces over OTLP/HTTP (optional)`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd.Context())
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.SetupFromEnv(ctx, "sienna-grabber")
	if err != nil {
		log.Printf("Warning: tracing disabled: %v", err)
	}
	defer shutdownTelemetry(tel)

	return rootCmd.ExecuteContext(ctx)
}

// shutdownTelemetry flushes the run's spans. It gets its own deadline since
// the run context may already be canceled.
func shutdownTelemetry(tel telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Printf("Warning: failed to flush traces: %v", err)
	}
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	var cfgErr *config.ConfigurationError
	var fetchErr *fetcher.FetchError
	var writeErr *storage.WriteError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &fetchErr):
		return ExitFetch
	case errors.As(err, &writeErr):
		return ExitWrite
	default:
		return ExitFailure
	}
}
