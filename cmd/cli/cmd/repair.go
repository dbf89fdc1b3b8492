// Package cmd - repair command
package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/warp/premium-engine/commission"
)

var (
	repairPolicy  string
	repairInsurer string
	repairType    string
	repairFormat  string
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-derive commissions and premium totals",
	Long: `Run the repair tool over the whole book, one policy, or one
(insurer, insurance type) pair. The run is recorded in the run history;
an interrupted run is picked up by the next one.

Examples:
  premiumctl repair
  premiumctl repair --policy pol-1001
  premiumctl repair --insurer ins-acme --type property --format json`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().StringVar(&repairPolicy, "policy", "", "repair a single policy")
	repairCmd.Flags().StringVar(&repairInsurer, "insurer", "", "repair one pair: insurer id (with --type)")
	repairCmd.Flags().StringVar(&repairType, "type", "", "repair one pair: insurance type id (with --insurer)")
	repairCmd.Flags().StringVarP(&repairFormat, "format", "f", "text", "output format (text, json)")
}

func repairScope() (commission.Scope, error) {
	var scope commission.Scope
	switch {
	case repairPolicy != "" && (repairInsurer != "" || repairType != ""):
		return scope, fmt.Errorf("--policy cannot be combined with --insurer/--type")
	case repairPolicy != "":
		scope = commission.ScopePolicy(commission.PolicyID(repairPolicy))
	case repairInsurer != "" || repairType != "":
		scope = commission.ScopePair(commission.InsurerID(repairInsurer), commission.InsuranceTypeID(repairType))
	default:
		scope = commission.ScopeAll()
	}
	return scope, scope.Validate()
}

func runRepair(cmd *cobra.Command, args []string) error {
	if err := checkFormat(repairFormat); err != nil {
		return err
	}
	scope, err := repairScope()
	if err != nil {
		return err
	}

	store, engine, err := openEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := engine.RunRepair(cmd.Context(), scope)
	if err != nil && !report.Interrupted {
		return fmt.Errorf("repair %s: %w", scope, err)
	}

	// an interrupted pass still reports what it committed
	if werr := writeReport(cmd, report); werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("repair %s: %w", scope, err)
	}
	return nil
}

func writeReport(cmd *cobra.Command, report commission.Report) error {
	if repairFormat == "json" {
		enc := json.NewEncoder(out(cmd))
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.WriteText(out(cmd))
}
