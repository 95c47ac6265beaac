// Package main provides the hustle CLI driver: create-table, drop-table,
// query, explain, and snapshot subcommands over one Engine instance (spec
// §6's external interface).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hustle-db/hustle/internal/config"
	"github.com/hustle-db/hustle/internal/debug"
	"github.com/hustle-db/hustle/internal/engine"
)

var (
	dbPath     string
	configPath string
	jsonOutput bool
	verbose    bool
	quiet      bool
	profile    bool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// tracerProvider is non-nil only when --profile registered a real
	// exporter; Close'd from main after the command tree returns.
	tracerProvider *sdktrace.TracerProvider
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	})
	boldStyle = lipgloss.NewStyle().Bold(true)
)

var rootCmd = &cobra.Command{
	Use:           "hustle",
	Short:         "A small analytical query engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !profile {
			return nil
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithoutTimestamps())
		if err != nil {
			return fmt.Errorf("--profile: %w", err)
		}
		tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		otel.SetTracerProvider(tracerProvider)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "catalog file path (default from --config, else hustle_catalog.json)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (only catalog_path and workers are applied; block capacity and bloom FP rate are not)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&profile, "profile", false, "emit per-task OpenTelemetry spans (TaskDescription/worker/start/end) to stderr")

	rootCmd.AddCommand(createTableCmd)
	rootCmd.AddCommand(dropTableCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// openEngine resolves --config, --db, and --verbose/--quiet and opens the
// Engine, used by every subcommand that talks to a database. Callers must
// call Close on the returned Engine.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	debug.SetVerbose(verbose)
	debug.SetQuiet(quiet)

	cfg := config.LoadDirect(configPath)
	path := dbPath
	if path == "" {
		path = cfg.CatalogPath
	}

	debug.Logf("hustle: opening catalog at %s (workers=%d)\n", path, cfg.Workers)
	if cfg.Workers > 0 {
		return engine.OpenWithWorkers(ctx, path, cfg.Workers)
	}
	return engine.Open(ctx, path)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	err := rootCmd.ExecuteContext(rootCtx)
	if tracerProvider != nil {
		_ = tracerProvider.Shutdown(context.Background())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
