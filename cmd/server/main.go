/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the premium engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + environment + flags)
  2. Build logger and metrics
  3. Initialize SQLite store
  4. Create engine, start the fan-out worker pool
  5. Start the periodic repair sweep
  6. Configure HTTP router and serve

COMMAND-LINE FLAGS:
  --config   JSON config file (optional)
  --port     HTTP server port (overrides config)
  --db       SQLite database path (overrides config)
             Use ":memory:" for in-memory database
  --verbose  Debug logging

ENVIRONMENT:
  PREMIUM_ENGINE_PORT, PREMIUM_ENGINE_DB, PREMIUM_ENGINE_LOG_LEVEL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the repair sweep (an in-flight pass is recorded as interrupted)
  4. Drain the fan-out queue
  5. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - internal/config/config.go: Configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/premium-engine/api"
	"github.com/warp/premium-engine/commission"
	"github.com/warp/premium-engine/internal/config"
	"github.com/warp/premium-engine/internal/logging"
	"github.com/warp/premium-engine/internal/metrics"
	"github.com/warp/premium-engine/store/sqlite"
)

var (
	cfgFile string
	verbose bool
	port    int
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "premium-server",
	Short: "Serve the policy book API with commission and premium consistency",
	Long: `premium-server keeps installment commissions and policy premium totals
consistent with the rate table. It exposes the policy book over HTTP,
recalculates derived fields on every write, fans out rate-table changes,
and sweeps the book periodically with the repair tool.

Examples:
  premium-server
  premium-server --db ./data/premium.db --port 3000
  premium-server --config premium.json --verbose`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (JSON)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.Server.DBPath = dbPath
	}
	if verbose {
		cfg.Logging = cfg.Logging.Verbose()
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize store
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Engine + fan-out pool
	engine := commission.NewEngine(store, commission.Options{
		Logger:    logger.Named("engine"),
		Metrics:   m,
		BatchSize: cfg.Repair.BatchSize,
	})
	queue := commission.NewQueue(engine.HandleFanOut, cfg.FanOut.Workers, cfg.FanOut.QueueSize, logger.Named("fanout"), m)
	queue.Start(context.Background())
	engine.UseDispatcher(queue)

	scheduler := api.NewRepairScheduler(engine, logger.Named("scheduler"))
	scheduler.Interval = cfg.Repair.Interval.Duration
	scheduler.Enabled = cfg.Repair.Enabled
	scheduler.Start()

	handler := api.NewHandler(store, engine, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.Server.DBPath),
			zap.Int("fanout_workers", cfg.FanOut.Workers))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	scheduler.Stop()

	// queued fan-outs get what is left of the shutdown window
	drained := make(chan error, 1)
	go func() { drained <- queue.Close() }()
	var qerr error
	select {
	case qerr = <-drained:
	case <-ctx.Done():
		logger.Warn("fan-out queue did not drain in time, aborting in-flight jobs")
		qerr = queue.Abort()
		if err := <-drained; err != nil {
			qerr = err
		}
	}
	if qerr != nil {
		logger.Warn("fan-out queue close", zap.Error(qerr))
	}

	logger.Info("server stopped")
	return nil
}
