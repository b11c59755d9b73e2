// cmd/sensorqa/ping.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sensorqa/internal/failover"
	"sensorqa/internal/monitoring"
)

var pingJSON bool

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check every sensor answers on its address or its alternate prefix",
	Long: `Probes every sensor in the registry. A sensor that does not answer is
probed again on its prefix-swapped address. Nothing is run on the sensors.

Exits 2 when any sensor answers on neither address.`,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().BoolVar(&pingJSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sensors, _, err := monitoring.LoadInventory(cfg)
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
	results := monitoring.CheckConnectivity(ctx, sensors, prober, policy, cfg.Runner.Workers)

	out := cmd.OutOrStdout()
	if pingJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printConnectivity(out, results)
	}

	if monitoring.CountUnreachable(results) > 0 {
		return failures(errUnreachable)
	}
	return nil
}

func printConnectivity(w io.Writer, results []monitoring.ConnectivityResult) {
	groups := []struct {
		title  string
		status monitoring.Reachability
	}{
		{"Reachable", monitoring.Reachable},
		{"Reachable via alternate prefix", monitoring.ReachableViaCandidate},
		{"Unreachable", monitoring.Unreachable},
	}

	for _, g := range groups {
		var lines []string
		for _, r := range results {
			if r.Status != g.status {
				continue
			}
			switch g.status {
			case monitoring.ReachableViaCandidate:
				lines = append(lines, fmt.Sprintf("%s (%s -> %s)", r.Hostname, r.Address, r.Candidate))
			case monitoring.Unreachable:
				lines = append(lines, fmt.Sprintf("%s (%s): %s", r.Hostname, r.Address, r.Diagnostic))
			default:
				lines = append(lines, fmt.Sprintf("%s (%s)", r.Hostname, r.Address))
			}
		}
		fmt.Fprintf(w, "%s (%d):\n", g.title, len(lines))
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}
