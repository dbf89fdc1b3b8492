package commission

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE REGISTRY - (insurer, insurance type) -> applicable RateEntry
// =============================================================================

// Registry resolves the applicable rate for a pair. It holds no state; the
// RateReader is passed per call so lookups inside a transaction see that
// transaction's view.
type Registry struct{}

// Lookup returns the applicable entry, or nil when the pair has no rate.
// Absence is not an error. When several entries exist for the pair, the most
// recently created one applies.
func (Registry) Lookup(ctx context.Context, rates RateReader, insurer InsurerID, typ InsuranceTypeID) (*RateEntry, error) {
	entries, err := rates.RatesForPair(ctx, insurer, typ)
	if err != nil {
		return nil, fmt.Errorf("lookup rate %s/%s: %w", insurer, typ, err)
	}
	return latest(entries), nil
}

// Preview returns only the percent, for live display before a save.
func (r Registry) Preview(ctx context.Context, rates RateReader, insurer InsurerID, typ InsuranceTypeID) (*decimal.Decimal, error) {
	entry, err := r.Lookup(ctx, rates, insurer, typ)
	if err != nil || entry == nil {
		return nil, err
	}
	p := entry.Percent
	return &p, nil
}

func latest(entries []RateEntry) *RateEntry {
	if len(entries) == 0 {
		return nil
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.newerThan(best) {
			best = e
		}
	}
	return &best
}
