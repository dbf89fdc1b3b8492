// Package cmd provides the premiumctl commands. They work directly on the
// SQLite database, so run them against a stopped server or a copy.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/premium-engine/commission"
	"github.com/warp/premium-engine/internal/config"
	"github.com/warp/premium-engine/internal/logging"
	"github.com/warp/premium-engine/store/sqlite"
)

var (
	cfgFile string
	verbose bool
	dbPath  string

	cfg    = config.Default()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "premiumctl",
	Short: "Operate the premium engine's policy book",
	Long: `premiumctl runs the repair tool, previews rates, seeds books and lists
repair runs against a premium engine database.

Examples:
  premiumctl repair
  premiumctl repair --insurer ins-acme --type property --format json
  premiumctl rates preview ins-acme property
  premiumctl seed book.json
  premiumctl runs --status interrupted`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx available to subcommands
// through cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(runsCmd)
}

func initConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
	if dbPath != "" {
		cfg.Server.DBPath = dbPath
	}
	if verbose {
		cfg.Logging = cfg.Logging.Verbose()
	}

	l, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return
	}
	logger = l
}

// openEngine opens the configured database with an inline engine.
func openEngine() (*sqlite.Store, *commission.Engine, error) {
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Server.DBPath, err)
	}
	engine := commission.NewEngine(store, commission.Options{
		Logger:    logger,
		BatchSize: cfg.Repair.BatchSize,
	})
	return store, engine, nil
}

func checkFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q (text, json)", format)
	}
	return nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
