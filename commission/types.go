/*
Package commission provides the derived-value consistency engine.

PURPOSE:
  This package keeps the two derived figures of the policy book in sync
  with their sources: the commission owed on each installment and the
  premium total owed on each policy. Everything else about the book
  (forms, reports, reminders) lives outside and calls in through Engine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal everywhere, rounded to cents half-up
  - Pair: the (insurer, insurance type) key of the rate table
  - RateEntry: a Pair -> percent mapping
  - Policy: carries the derived PremiumTotal and its optimistic Version
  - Installment: carries the source Amount and derived RateRef/CommissionAmount

DERIVED FIELDS:
  The engine is the ONLY writer of:
    Installment.RateRef, Installment.CommissionAmount
    Policy.PremiumTotal, Policy.Version
  It never writes Amount, dates, or identities.

INVARIANTS:
  1. RateRef != nil  =>  CommissionAmount == round(Amount * Percent / 100, 2)
  2. PremiumTotal == sum(Amount) over the policy's installments (0 if none)
  3. RateRef != nil  =>  the entry's Pair equals the policy's CURRENT Pair
  4. No entry for the Pair  =>  RateRef == nil and CommissionAmount == 0

SEE ALSO:
  - registry.go: Rate lookup
  - calculator.go: Commission computation
  - aggregator.go: Premium total
  - propagator.go: Trigger handling
  - repair.go: Backfill batch tool
  - engine.go: Operations exposed to the CRUD layer
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InsurerID string
type InsuranceTypeID string
type ClientID string
type PolicyID string
type InstallmentID string
type RateEntryID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places kept for amounts and commissions.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to cents. Amounts are non-negative,
// so this is half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type Insurer struct {
	ID   InsurerID
	Name string
}

type InsuranceType struct {
	ID   InsuranceTypeID
	Name string
}

type Client struct {
	ID   ClientID
	Name string
}

// Pair is the rate-table key.
type Pair struct {
	Insurer InsurerID
	Type    InsuranceTypeID
}

func (p Pair) String() string { return string(p.Insurer) + "/" + string(p.Type) }

// =============================================================================
// RATE ENTRY
// =============================================================================

// RateEntry maps a Pair to a commission percentage (e.g. 12.50).
// Several entries may exist for one pair; the most recently created applies.
type RateEntry struct {
	ID              RateEntryID
	InsurerID       InsurerID
	InsuranceTypeID InsuranceTypeID
	Percent         decimal.Decimal
	CreatedAt       time.Time
}

func (r RateEntry) Pair() Pair {
	return Pair{Insurer: r.InsurerID, Type: r.InsuranceTypeID}
}

// newerThan orders historized entries: later CreatedAt wins, then greater ID.
func (r RateEntry) newerThan(other RateEntry) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.After(other.CreatedAt)
	}
	return r.ID > other.ID
}

// =============================================================================
// POLICY
// =============================================================================

type Policy struct {
	ID              PolicyID
	ClientID        ClientID
	InsurerID       InsurerID
	InsuranceTypeID InsuranceTypeID
	Number          string

	// PremiumTotal is derived. Collaborators never write it.
	PremiumTotal decimal.Decimal

	// Version is bumped on every PremiumTotal write (optimistic lock).
	Version int64

	Active bool
	Closed bool
}

func (p Policy) Pair() Pair {
	return Pair{Insurer: p.InsurerID, Type: p.InsuranceTypeID}
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// Installment is one row of a policy's payment schedule.
type Installment struct {
	ID       InstallmentID
	PolicyID PolicyID
	DueDate  time.Time
	Amount   decimal.Decimal

	// RateRef is nil when no rate applies ("uncalculated").
	RateRef          *RateEntryID
	CommissionAmount decimal.Decimal

	PaidAt     *time.Time
	ApprovedAt *time.Time
}

// Uncalculated reports whether the installment has no resolved rate link.
func (i Installment) Uncalculated() bool { return i.RateRef == nil }

// RefPtr returns a pointer to a copy of id.
func RefPtr(id RateEntryID) *RateEntryID { return &id }

func sameRef(a, b *RateEntryID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func refString(r *RateEntryID) string {
	if r == nil {
		return ""
	}
	return string(*r)
}
