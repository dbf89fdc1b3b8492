/*
calculator.go - Installment commission calculator

PURPOSE:
  Given an installment and its policy, resolve the applicable rate and
  compute the commission. Pure apart from the rate lookup: it never writes.
  Persisting the result is the Propagator's job, inside the same
  transaction as the installment write.

FORMULA:
  commission = round(amount * percent / 100, 2), half-up, in decimal

UNRESOLVED RATE:
  Not an error. Result.Uncalculated is set, RateRef is nil, Commission is 0.
*/
package commission

import (
	"context"

	"github.com/shopspring/decimal"
)

// Result is the calculator's output for one installment.
type Result struct {
	Rate         *RateEntry
	Commission   decimal.Decimal
	Uncalculated bool
}

// RateRef returns the reference to persist, nil when uncalculated.
func (r Result) RateRef() *RateEntryID {
	if r.Rate == nil {
		return nil
	}
	return RefPtr(r.Rate.ID)
}

// Matches reports whether the installment already carries this result.
func (r Result) Matches(inst Installment) bool {
	return sameRef(inst.RateRef, r.RateRef()) && inst.CommissionAmount.Equal(r.Commission)
}

// Calculator computes commissions using a Registry.
type Calculator struct {
	Registry Registry
}

// Calculate resolves the rate for pol's current pair and computes inst's commission.
func (c Calculator) Calculate(ctx context.Context, rates RateReader, inst Installment, pol Policy) (Result, error) {
	rate, err := c.Registry.Lookup(ctx, rates, pol.InsurerID, pol.InsuranceTypeID)
	if err != nil {
		return Result{}, err
	}
	if rate == nil {
		return Result{Commission: decimal.Zero, Uncalculated: true}, nil
	}
	return Result{Rate: rate, Commission: CommissionFor(inst.Amount, rate.Percent)}, nil
}

// CommissionFor returns round(amount * percent / 100, 2).
func CommissionFor(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(hundred))
}
