// Package cmd - rates commands
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/premium-engine/commission"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Inspect the rate table",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var ratesPreviewCmd = &cobra.Command{
	Use:   "preview <insurer-id> <insurance-type-id>",
	Short: "Show the percent that applies to a pair",
	Long: `Print the commission percent a new installment for the pair would get.
Nothing is written.

Examples:
  premiumctl rates preview ins-acme property`,
	Args: cobra.ExactArgs(2),
	RunE: runRatesPreview,
}

var ratesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rate entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRatesList,
}

func init() {
	ratesCmd.AddCommand(ratesPreviewCmd)
	ratesCmd.AddCommand(ratesListCmd)
}

func runRatesPreview(cmd *cobra.Command, args []string) error {
	store, engine, err := openEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	pair := commission.Pair{Insurer: commission.InsurerID(args[0]), Type: commission.InsuranceTypeID(args[1])}
	pct, err := engine.PreviewRate(cmd.Context(), pair.Insurer, pair.Type)
	if err != nil {
		return err
	}
	if pct == nil {
		fmt.Fprintf(out(cmd), "%s: no rate (uncalculated)\n", pair)
		return nil
	}
	fmt.Fprintf(out(cmd), "%s: %s%%\n", pair, pct.String())
	return nil
}

func runRatesList(cmd *cobra.Command, args []string) error {
	store, _, err := openEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	rates, err := store.ListRates(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range rates {
		fmt.Fprintf(out(cmd), "%s\t%s\t%s%%\t%s\n", r.ID, r.Pair(), r.Percent.String(), r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return nil
}
