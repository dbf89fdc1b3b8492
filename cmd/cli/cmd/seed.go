// Package cmd - seed command
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/premium-engine/factory"
)

var seedReset bool

var seedCmd = &cobra.Command{
	Use:   "seed <book.json>",
	Short: "Load a policy book through the engine",
	Long: `Write the insurers, rates, policies and installments of a JSON book.
Every installment goes through the engine's save trigger, so commissions
and premium totals are derived as they would be in production.

Examples:
  premiumctl seed book.json
  premiumctl seed --reset book.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "clear the database first")
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	book, err := factory.ParseBook(data)
	if err != nil {
		return err
	}

	store, engine, err := openEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	if seedReset {
		if err := store.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	sum, err := factory.Apply(cmd.Context(), store, engine, book)
	if err != nil {
		return err
	}
	fmt.Fprintf(out(cmd), "seeded %d rates, %d policies, %d installments (%d uncalculated)\n",
		sum.Rates, sum.Policies, sum.Installments, sum.Uncalculated)
	return nil
}
