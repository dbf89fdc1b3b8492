package commission

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PREMIUM AGGREGATOR - policy.PremiumTotal = sum(installment.Amount)
// =============================================================================

// Aggregator recomputes a policy's premium total from its installments.
type Aggregator struct{}

// Recompute sums the amounts of every installment attached to the policy.
// Zero when the schedule is empty. Idempotent.
func (Aggregator) Recompute(ctx context.Context, s Store, policyID PolicyID) (decimal.Decimal, error) {
	insts, err := s.ListInstallments(ctx, policyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list installments of %s: %w", policyID, err)
	}
	return SumAmounts(insts), nil
}

// Sync recomputes the total and writes it against pol.Version.
// Returns the new total and whether it differed from pol.PremiumTotal.
// The write always happens so concurrent writers on the same policy collide.
func (a Aggregator) Sync(ctx context.Context, s Store, pol Policy) (decimal.Decimal, bool, error) {
	total, err := a.Recompute(ctx, s, pol.ID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if err := s.SetPremiumTotal(ctx, pol.ID, total, pol.Version); err != nil {
		return decimal.Zero, false, fmt.Errorf("set premium total of %s: %w", pol.ID, err)
	}
	return total, !total.Equal(pol.PremiumTotal), nil
}

// SumAmounts adds installment amounts in decimal.
func SumAmounts(insts []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range insts {
		total = total.Add(inst.Amount)
	}
	return total
}
