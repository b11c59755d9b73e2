// cmd/sensorqa/history.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sensorqa/internal/database"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	historyShowCmd.Flags().StringVarP(&historyFormat, "format", "f", "", "Print the raw report as json or yaml instead of the summary")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory(cmd *cobra.Command) (*database.BoltStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), database.RunFilters{Limit: historyLimit})
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(out io.Writer, runs []database.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTRIGGER\tSENSORS\tPASSED\tFAILED\tINCOMPLETE\tFAILOVERS\tRESULT")
	for _, r := range runs {
		result := "ok"
		if !r.OK {
			result = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Trigger,
			r.Summary.Sensors,
			r.Summary.Passed,
			r.Summary.Failed,
			r.Summary.Incomplete,
			r.Summary.FailoverEvents,
			result,
		)
	}
	w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), args[0])
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("no run with id %q", args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyFormat != "" {
		data, err := run.Report.Encode(historyFormat)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintf(out, "Run %s (%s)\n", run.ID, run.Trigger)
	if run.ReportPath != "" {
		fmt.Fprintf(out, "Report file: %s\n", run.ReportPath)
	}
	fmt.Fprintln(out)
	run.Report.Render(out)
	return nil
}
