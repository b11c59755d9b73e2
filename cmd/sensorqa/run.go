// cmd/sensorqa/run.go
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

	"sensorqa/internal/config"
	"sensorqa/internal/database"
	"sensorqa/internal/metrics"
	"sensorqa/internal/monitoring"
)

var (
	runSensorsFile string
	runTestsFile   string
	runReportsDir  string
	runFormat      string
	runWorkers     int
	runTimeout     time.Duration
	runNoHistory   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the test catalog against every sensor once",
	Long: `Runs every test in the catalog against every sensor in the registry,
prints a summary, writes a timestamped report file and records the run in
history.

Interrupting the run marks unfinished tests incomplete and still reports.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSensorsFile, "sensors", "", "Sensor registry file (overrides inputs.sensors_file)")
	runCmd.Flags().StringVar(&runTestsFile, "tests", "", "Test catalog file (overrides inputs.tests_file)")
	runCmd.Flags().StringVarP(&runReportsDir, "output", "o", "", "Report directory (overrides inputs.reports_dir)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "Report format: json or yaml")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Sensors tested concurrently")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run timeout")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Do not record the run in the history database")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cfg *config.Config) error {
	if runSensorsFile != "" {
		cfg.Inputs.SensorsFile = runSensorsFile
	}
	if runTestsFile != "" {
		cfg.Inputs.TestsFile = runTestsFile
	}
	if runReportsDir != "" {
		cfg.Inputs.ReportsDir = runReportsDir
	}
	if runFormat != "" {
		if runFormat != "json" && runFormat != "yaml" {
			return fmt.Errorf("invalid report format %q (want json or yaml)", runFormat)
		}
		cfg.Inputs.ReportFormat = runFormat
	}
	if runWorkers < 0 {
		return fmt.Errorf("workers must be positive, got %d", runWorkers)
	}
	if runWorkers > 0 {
		cfg.Runner.Workers = runWorkers
	}
	if runTimeout > 0 {
		cfg.Runner.Timeout = runTimeout
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cfg); err != nil {
		return configError(err)
	}

	prober, err := monitoring.NewProber(cfg)
	if err != nil {
		return configError(err)
	}

	var store database.Store
	if !runNoHistory {
		bolt, err := database.NewBoltStore(cfg.Database.Path)
		if err != nil {
			// History is optional for a CLI run; serve mode may hold the lock.
			logrus.WithError(err).Warn("Run history unavailable, continuing without it")
		} else {
			defer bolt.Close()
			store = bolt
		}
	}

	collector := metrics.NewCollector(store)
	engine := monitoring.NewEngine(cfg, store, collector, nil, prober)
	engine.SetExecutorFactory(monitoring.SSHExecutors(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := engine.RunOnce(ctx, database.TriggerCLI)
	if err != nil {
		return configError(err)
	}

	out := cmd.OutOrStdout()
	run.Report.Render(out)
	if run.ReportPath != "" {
		fmt.Fprintf(out, "\nReport written to %s\n", run.ReportPath)
	}

	if cfg.Prometheus.PushGateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Prometheus.PushGateway, cfg.Prometheus.Job); err != nil {
			logrus.WithError(err).Warn("Failed to push metrics")
		}
		cancel()
	}

	if !run.Report.Summary.OK() {
		return failures(errRunFailed)
	}
	return nil
}
