// cmd/sensorqa/tools.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sensorqa/internal/failover"
	"sensorqa/internal/monitoring"
	"sensorqa/internal/provision"
)

var errToolsMissing = errors.New("some sensors are missing tools")

var (
	toolsInstall    bool
	toolsUpgradable bool
	toolsJSON       bool
	toolsPackages   []string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Check the diagnostic tools on every sensor",
	Long: `Checks that every sensor has the tools listed under tools.packages (or
given with --tool). Entries are a package name, or "package:binary" when the
installed binary is named differently.

With --install, missing packages are installed with the sensor's package
manager (apt, dnf, yum or apk) through sudo -n. With --upgradable, pending
package upgrades are listed.

Exits 2 when any sensor is unreachable or still missing a tool.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsInstall, "install", false, "Install missing tools")
	toolsCmd.Flags().BoolVar(&toolsUpgradable, "upgradable", false, "List upgradable packages")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print results as JSON")
	toolsCmd.Flags().StringSliceVar(&toolsPackages, "tool", nil, "Tool to check, repeatable (overrides tools.packages)")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	specs := cfg.Tools.Packages
	if len(toolsPackages) > 0 {
		specs = toolsPackages
	}
	tools, err := provision.ParseTools(specs)
	if err != nil {
		return configError(err)
	}

	sensors, _, err := monitoring.LoadInventory(cfg)
	if err != nil {
		return configError(err)
	}
	exec, err := monitoring.NewExecutor(cfg, sensors)
	if err != nil {
		return configError(err)
	}
	prober, err := monitoring.NewProber(cfg)
	if err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := monitoring.NewPolicy(cfg, prober, failover.NewLog())
	checker := provision.NewChecker(exec, policy,
		provision.WithInstall(toolsInstall),
		provision.WithUpgradable(toolsUpgradable),
		provision.WithWorkers(cfg.Runner.Workers),
	)
	results := checker.CheckFleet(ctx, sensors, tools)

	out := cmd.OutOrStdout()
	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printTools(out, results)
	}

	for _, r := range results {
		if !r.OK() {
			return failures(errToolsMissing)
		}
	}
	return nil
}

func printTools(out io.Writer, results []provision.SensorTools) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tADDRESS\tMANAGER\tPRESENT\tINSTALLED\tMISSING\tUPGRADABLE")
	for _, r := range results {
		addr := r.Address
		if r.ActiveAddress != "" {
			addr = r.Address + " -> " + r.ActiveAddress
		}
		missing := append([]string(nil), r.Missing...)
		for _, f := range r.Failed {
			missing = append(missing, f.Package)
		}
		manager := string(r.PackageManager)
		if manager == "" {
			manager = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.Hostname,
			addr,
			manager,
			joinOrDash(r.Present),
			joinOrDash(r.Installed),
			joinOrDash(missing),
			len(r.Upgradable),
		)
	}
	w.Flush()

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(out, "\n%s (%s): %s", r.Hostname, r.Address, r.Error)
		}
		for _, f := range r.Failed {
			fmt.Fprintf(out, "\n%s: %s failed to install: %s", r.Hostname, f.Package, f.Error)
		}
		if len(r.Upgradable) > 0 {
			fmt.Fprintf(out, "\n%s upgradable: %s", r.Hostname, strings.Join(r.Upgradable, ", "))
		}
	}
	fmt.Fprintln(out)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
