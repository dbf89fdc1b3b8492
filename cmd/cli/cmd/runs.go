// Package cmd - runs command
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/warp/premium-engine/commission"
)

var (
	runsStatus string
	runsFormat string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded repair runs, newest first",
	Long: `List the repair run history, including fan-out runs triggered by rate
changes and scheduled sweeps.

Examples:
  premiumctl runs
  premiumctl runs --status interrupted`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, completed, interrupted, failed)")
	runsCmd.Flags().StringVarP(&runsFormat, "format", "f", "text", "output format (text, json)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	if err := checkFormat(runsFormat); err != nil {
		return err
	}
	store, engine, err := openEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := engine.RepairRuns(cmd.Context(), commission.RunStatus(runsStatus))
	if err != nil {
		return err
	}

	if runsFormat == "json" {
		enc := json.NewEncoder(out(cmd))
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTRIGGER\tSCOPE\tSTATUS\tEXAMINED\tCORRECTED\tUNCALCULATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.StartedAt.UTC().Format("2006-01-02 15:04:05"), r.Trigger, r.Scope, r.Status,
			r.Report.Examined, r.Report.Corrected, r.Report.StillUncalculated)
	}
	return tw.Flush()
}
