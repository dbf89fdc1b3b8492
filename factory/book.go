/*
Package factory provides JSON to Go policy-book conversion.

PURPOSE:
  Converts a JSON "book" (reference data, rate table, policies and their
  payment schedules) into commission domain values and writes it through
  the same CRUD + engine calls the collaborator layer uses. Used by the
  demo scenarios, the CLI seed command and tests.

JSON SCHEMA:
  {
    "insurers":        [{"id": "ins-a", "name": "Acme Mutual"}],
    "insurance_types": [{"id": "property", "name": "Property"}],
    "clients":         [{"id": "c-1", "name": "Jane Roe"}],
    "rates": [
      {"id": "r-1", "insurer_id": "ins-a", "insurance_type_id": "property",
       "percent": "12.50", "created_at": "2025-01-01T00:00:00Z"}
    ],
    "policies": [
      {"id": "p-1", "client_id": "c-1", "insurer_id": "ins-a",
       "insurance_type_id": "property", "number": "PRP-0001",
       "installments": [
         {"id": "i-1", "due_date": "2025-02-01", "amount": "1000.00"}
       ]}
    ]
  }

VALIDATION:
  - ids are required and unique per kind
  - amounts are >= 0, percents are within [0, 100]
  - due dates are YYYY-MM-DD
  Derived fields (commission, premium total) are never read from JSON.

USAGE:
  book, err := factory.ParseBook(data)
  summary, err := factory.Apply(ctx, store, engine, book)

SEE ALSO:
  - commission/types.go: Domain types
  - api/scenarios.go: Demo books
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/warp/premium-engine/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BookJSON is the JSON representation of a policy book.
type BookJSON struct {
	Insurers       []NamedJSON  `json:"insurers,omitempty"`
	InsuranceTypes []NamedJSON  `json:"insurance_types,omitempty"`
	Clients        []NamedJSON  `json:"clients,omitempty"`
	Rates          []RateJSON   `json:"rates,omitempty"`
	Policies       []PolicyJSON `json:"policies,omitempty"`
}

// NamedJSON is an insurer, insurance type or client.
type NamedJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RateJSON represents a rate-table entry.
type RateJSON struct {
	ID              string          `json:"id"`
	InsurerID       string          `json:"insurer_id"`
	InsuranceTypeID string          `json:"insurance_type_id"`
	Percent         decimal.Decimal `json:"percent"`
	CreatedAt       string          `json:"created_at,omitempty"` // RFC3339, default now
}

// PolicyJSON represents a policy with its schedule.
type PolicyJSON struct {
	ID              string            `json:"id"`
	ClientID        string            `json:"client_id"`
	InsurerID       string            `json:"insurer_id"`
	InsuranceTypeID string            `json:"insurance_type_id"`
	Number          string            `json:"number,omitempty"`
	Closed          bool              `json:"closed,omitempty"`
	Installments    []InstallmentJSON `json:"installments,omitempty"`
}

// InstallmentJSON represents one schedule row.
type InstallmentJSON struct {
	ID      string          `json:"id"`
	DueDate string          `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
	PaidAt  string          `json:"paid_at,omitempty"`
}

// =============================================================================
// PARSED BOOK
// =============================================================================

// Book is a validated set of domain values ready to be written.
type Book struct {
	Insurers       []commission.Insurer
	InsuranceTypes []commission.InsuranceType
	Clients        []commission.Client
	Rates          []commission.RateEntry
	Policies       []commission.Policy
	Installments   []commission.Installment
}

var ErrInvalidBook = errors.New("invalid book")

// ParseBook decodes and validates a JSON book.
func ParseBook(data []byte) (*Book, error) {
	var raw BookJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBook, err)
	}
	return FromJSON(raw, time.Now().UTC())
}

// FromJSON converts a decoded book. now stamps rates without created_at.
func FromJSON(raw BookJSON, now time.Time) (*Book, error) {
	b := &Book{}

	seen := map[string]bool{}
	unique := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("%w: %s without id", ErrInvalidBook, kind)
		}
		key := kind + "/" + id
		if seen[key] {
			return fmt.Errorf("%w: duplicate %s %q", ErrInvalidBook, kind, id)
		}
		seen[key] = true
		return nil
	}

	for _, in := range raw.Insurers {
		if err := unique("insurer", in.ID); err != nil {
			return nil, err
		}
		b.Insurers = append(b.Insurers, commission.Insurer{ID: commission.InsurerID(in.ID), Name: in.Name})
	}
	for _, it := range raw.InsuranceTypes {
		if err := unique("insurance type", it.ID); err != nil {
			return nil, err
		}
		b.InsuranceTypes = append(b.InsuranceTypes, commission.InsuranceType{ID: commission.InsuranceTypeID(it.ID), Name: it.Name})
	}
	for _, c := range raw.Clients {
		if err := unique("client", c.ID); err != nil {
			return nil, err
		}
		b.Clients = append(b.Clients, commission.Client{ID: commission.ClientID(c.ID), Name: c.Name})
	}

	for _, r := range raw.Rates {
		if err := unique("rate", r.ID); err != nil {
			return nil, err
		}
		entry, err := r.toDomain(now)
		if err != nil {
			return nil, err
		}
		b.Rates = append(b.Rates, entry)
	}

	for _, p := range raw.Policies {
		if err := unique("policy", p.ID); err != nil {
			return nil, err
		}
		if p.InsurerID == "" || p.InsuranceTypeID == "" {
			return nil, fmt.Errorf("%w: policy %q needs insurer_id and insurance_type_id", ErrInvalidBook, p.ID)
		}
		b.Policies = append(b.Policies, commission.Policy{
			ID:              commission.PolicyID(p.ID),
			ClientID:        commission.ClientID(p.ClientID),
			InsurerID:       commission.InsurerID(p.InsurerID),
			InsuranceTypeID: commission.InsuranceTypeID(p.InsuranceTypeID),
			Number:          p.Number,
			Active:          !p.Closed,
			Closed:          p.Closed,
		})
		for _, i := range p.Installments {
			if err := unique("installment", i.ID); err != nil {
				return nil, err
			}
			inst, err := i.toDomain(commission.PolicyID(p.ID))
			if err != nil {
				return nil, err
			}
			b.Installments = append(b.Installments, inst)
		}
	}
	return b, nil
}

func (r RateJSON) toDomain(now time.Time) (commission.RateEntry, error) {
	if r.InsurerID == "" || r.InsuranceTypeID == "" {
		return commission.RateEntry{}, fmt.Errorf("%w: rate %q needs insurer_id and insurance_type_id", ErrInvalidBook, r.ID)
	}
	if err := ValidatePercent(r.Percent); err != nil {
		return commission.RateEntry{}, fmt.Errorf("%w: rate %q: %v", ErrInvalidBook, r.ID, err)
	}
	created := now
	if r.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, r.CreatedAt)
		if err != nil {
			return commission.RateEntry{}, fmt.Errorf("%w: rate %q created_at: %v", ErrInvalidBook, r.ID, err)
		}
		created = t
	}
	return commission.RateEntry{
		ID:              commission.RateEntryID(r.ID),
		InsurerID:       commission.InsurerID(r.InsurerID),
		InsuranceTypeID: commission.InsuranceTypeID(r.InsuranceTypeID),
		Percent:         r.Percent,
		CreatedAt:       created,
	}, nil
}

func (i InstallmentJSON) toDomain(policy commission.PolicyID) (commission.Installment, error) {
	due, err := time.Parse("2006-01-02", i.DueDate)
	if err != nil {
		return commission.Installment{}, fmt.Errorf("%w: installment %q due_date: %v", ErrInvalidBook, i.ID, err)
	}
	if err := ValidateAmount(i.Amount); err != nil {
		return commission.Installment{}, fmt.Errorf("%w: installment %q: %v", ErrInvalidBook, i.ID, err)
	}
	inst := commission.Installment{
		ID:       commission.InstallmentID(i.ID),
		PolicyID: policy,
		DueDate:  due,
		Amount:   i.Amount,
	}
	if i.PaidAt != "" {
		t, err := time.Parse(time.RFC3339, i.PaidAt)
		if err != nil {
			return commission.Installment{}, fmt.Errorf("%w: installment %q paid_at: %v", ErrInvalidBook, i.ID, err)
		}
		inst.PaidAt = &t
	}
	return inst, nil
}

// ValidateAmount rejects negative amounts and sub-cent precision.
func ValidateAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("amount %s is negative", d)
	}
	if !d.Equal(commission.RoundMoney(d)) {
		return fmt.Errorf("amount %s has more than %d decimals", d, commission.MoneyPlaces)
	}
	return nil
}

// ValidatePercent requires 0 <= p <= 100.
func ValidatePercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("percent %s out of range [0, 100]", p)
	}
	return nil
}

// =============================================================================
// APPLY
// =============================================================================

// BookWriter is the CRUD surface a book is written through. The reads let
// Apply tell a re-seed edit from a first write.
type BookWriter interface {
	commission.Store
	SaveInsurer(ctx context.Context, in commission.Insurer) error
	SaveInsuranceType(ctx context.Context, it commission.InsuranceType) error
	SaveClient(ctx context.Context, c commission.Client) error
	SaveRate(ctx context.Context, r commission.RateEntry) error
	SavePolicy(ctx context.Context, p commission.Policy) error
	SaveInstallment(ctx context.Context, inst commission.Installment) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Rates        int `json:"rates"`
	Policies     int `json:"policies"`
	Installments int `json:"installments"`
	Uncalculated int `json:"uncalculated"`
	RateChanges  int `json:"rate_changes,omitempty"` // fan-outs dispatched
	Reassigned   int `json:"reassigned,omitempty"`   // policies moved to another pair
	Moved        int `json:"moved,omitempty"`        // installments moved to another policy
}

// Apply writes the book the way a collaborator would: source rows first,
// then the engine trigger matching each change.
//
// Against a store that already holds the rows, an edited rate fans out
// (to the pair it left too), a policy whose pair changed is reassigned and
// an installment under another policy is moved. A new rate fans out only
// when its pair already has policies.
func Apply(ctx context.Context, w BookWriter, eng *commission.Engine, b *Book) (Summary, error) {
	var sum Summary
	for _, in := range b.Insurers {
		if err := w.SaveInsurer(ctx, in); err != nil {
			return sum, fmt.Errorf("save insurer %s: %w", in.ID, err)
		}
	}
	for _, it := range b.InsuranceTypes {
		if err := w.SaveInsuranceType(ctx, it); err != nil {
			return sum, fmt.Errorf("save insurance type %s: %w", it.ID, err)
		}
	}
	for _, c := range b.Clients {
		if err := w.SaveClient(ctx, c); err != nil {
			return sum, fmt.Errorf("save client %s: %w", c.ID, err)
		}
	}

	var changed []commission.RateEntry
	for _, r := range b.Rates {
		fanOut, err := rateChanges(ctx, w, r)
		if err != nil {
			return sum, fmt.Errorf("read rate %s: %w", r.ID, err)
		}
		if err := w.SaveRate(ctx, r); err != nil {
			return sum, fmt.Errorf("save rate %s: %w", r.ID, err)
		}
		changed = append(changed, fanOut...)
		sum.Rates++
	}
	// dispatched once the whole table is written
	for _, r := range changed {
		if err := eng.OnRateEntryChanged(ctx, r); err != nil {
			return sum, fmt.Errorf("fan out rate %s: %w", r.ID, err)
		}
		sum.RateChanges++
	}

	for _, p := range b.Policies {
		prev, err := w.GetPolicy(ctx, p.ID)
		found := err == nil
		if err != nil && !errors.Is(err, commission.ErrPolicyNotFound) {
			return sum, fmt.Errorf("read policy %s: %w", p.ID, err)
		}
		if err := w.SavePolicy(ctx, p); err != nil {
			return sum, fmt.Errorf("save policy %s: %w", p.ID, err)
		}
		sum.Policies++
		if found && prev.Pair() != p.Pair() {
			if _, err := eng.OnPolicyReassigned(ctx, p.ID, prev.InsurerID, prev.InsuranceTypeID); err != nil {
				return sum, err
			}
			sum.Reassigned++
		}
	}

	for _, inst := range b.Installments {
		prev, err := w.GetInstallment(ctx, inst.ID)
		found := err == nil
		if err != nil && !errors.Is(err, commission.ErrInstallmentNotFound) {
			return sum, fmt.Errorf("read installment %s: %w", inst.ID, err)
		}
		if err := w.SaveInstallment(ctx, inst); err != nil {
			return sum, fmt.Errorf("save installment %s: %w", inst.ID, err)
		}
		var out commission.Outcome
		if found && prev.PolicyID != inst.PolicyID {
			out, err = eng.OnInstallmentMoved(ctx, inst.ID, prev.PolicyID)
			sum.Moved++
		} else {
			out, err = eng.OnInstallmentSaved(ctx, inst.ID)
		}
		if err != nil {
			return sum, err
		}
		sum.Installments++
		sum.Uncalculated += len(out.Uncalculated)
	}
	return sum, nil
}

// rateChanges returns the entries whose pairs need a fan-out once r is saved.
func rateChanges(ctx context.Context, w BookWriter, r commission.RateEntry) ([]commission.RateEntry, error) {
	prev, err := w.GetRate(ctx, r.ID)
	if errors.Is(err, commission.ErrRateNotFound) {
		pair := r.Pair()
		policies, err := w.ListPolicies(ctx, commission.PolicyFilter{Pair: &pair, Limit: 1})
		if err != nil || len(policies) == 0 {
			return nil, err
		}
		return []commission.RateEntry{r}, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.Pair() != r.Pair() {
		return []commission.RateEntry{r, prev}, nil
	}
	if !prev.Percent.Equal(r.Percent) {
		return []commission.RateEntry{r}, nil
	}
	return nil, nil
}
