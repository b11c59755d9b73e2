// cmd/sensorqa/serve.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sensorqa/internal/database"
	"sensorqa/internal/metrics"
	"sensorqa/internal/monitoring"
	"sensorqa/internal/web"
)

var (
	serveRunNow   bool
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API and optionally run on a schedule",
	Long: `Starts the HTTP API (run history, triggering runs, live events over
websocket and Prometheus metrics). With runner.interval or --interval set,
the fleet is tested periodically.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRunNow, "run-now", false, "Start a run as soon as the server is up")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Run periodically at this interval (overrides runner.interval)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveInterval > 0 {
		cfg.Runner.Interval = serveInterval
	}

	// Checked again before every run; a bad inventory at startup is fatal.
	sensors, _, err := monitoring.LoadInventory(cfg)
	if err != nil {
		return configError(err)
	}
	if _, err := monitoring.NewExecutor(cfg, sensors); err != nil {
		return configError(err)
	}
	prober, err := monitoring.NewProber(cfg)
	if err != nil {
		return configError(err)
	}

	logrus.WithFields(logrus.Fields{
		"config_file": configFile,
		"port":        cfg.Server.Port,
		"workers":     cfg.Runner.Workers,
		"sensors":     len(sensors),
		"interval":    cfg.Runner.Interval,
	}).Info("Starting sensorqa server")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	collector := metrics.NewCollector(store)
	engine := monitoring.NewEngine(cfg, store, collector, nil, prober)
	engine.SetExecutorFactory(monitoring.SSHExecutors(cfg))
	server := web.NewServer(cfg, store, engine, collector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := collector.UpdateSystemMetrics(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to read database stats")
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()
	if err := server.Start(ctx); err != nil {
		return err
	}

	if serveRunNow {
		if _, err := engine.RunAsync(ctx, database.TriggerAPI); err != nil {
			logrus.WithError(err).Warn("Initial run not started")
		}
	}

	<-ctx.Done()
	logrus.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown incomplete")
	}

	// The run in progress saw ctx end; let it store its incomplete results
	// before the deferred store.Close.
	if id := engine.ActiveRun(); id != "" {
		logrus.WithField("run_id", id).Info("Waiting for active run to be stored")
		waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.SSH.ConnectTimeout+time.Minute)
		defer waitCancel()
		if err := engine.Wait(waitCtx); err != nil {
			logrus.WithField("run_id", id).WithError(err).Error("Active run was not stored before shutdown")
		}
	}
	logrus.Info("Shutdown complete")
	return nil
}
