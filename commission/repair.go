/*
repair.go - Repair/backfill batch tool

PURPOSE:
  Finds installments whose commission link is missing or wrong and re-runs
  the Calculator on them. Exists to recover from historical data-integrity
  incidents (installments saved before their rate existed, links left
  pointing at another insurer's rate, premium totals that drifted).

WHAT COUNTS AS WRONG:
  null_link     RateRef is nil but a rate now applies
  stale_link    RateRef points at an entry for another (insurer, type)
  dangling_link RateRef points at an entry that no longer exists
  superseded    RateRef points at an older entry of the same pair
  amount_drift  RateRef is right but CommissionAmount is not

IDEMPOTENCE:
  Installments that are already correct are never written. Running the
  tool twice with no intervening edits reports Corrected == 0 the second
  time.

RESUMABILITY:
  Policies are processed in ID order, each in its own transaction. If ctx
  is cancelled the pass stops between policies, marks the report
  Interrupted, and leaves committed policies corrected. Re-running picks up
  the rest because already-correct installments are skipped.
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SCOPE
// =============================================================================

type ScopeKind string

const (
	ScopeKindAll    ScopeKind = "all"
	ScopeKindPolicy ScopeKind = "policy"
	ScopeKindPair   ScopeKind = "pair"
)

// Scope selects the installments a repair pass examines.
type Scope struct {
	Kind     ScopeKind
	PolicyID PolicyID
	Pair     Pair
}

func ScopeAll() Scope               { return Scope{Kind: ScopeKindAll} }
func ScopePolicy(id PolicyID) Scope { return Scope{Kind: ScopeKindPolicy, PolicyID: id} }
func ScopePair(i InsurerID, t InsuranceTypeID) Scope {
	return Scope{Kind: ScopeKindPair, Pair: Pair{Insurer: i, Type: t}}
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeKindPolicy:
		return "policy:" + string(s.PolicyID)
	case ScopeKindPair:
		return "pair:" + s.Pair.String()
	default:
		return string(s.Kind)
	}
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeKindAll:
		return nil
	case ScopeKindPolicy:
		if s.PolicyID == "" {
			return fmt.Errorf("%w: policy scope without policy id", ErrInvalidScope)
		}
		return nil
	case ScopeKindPair:
		if s.Pair.Insurer == "" || s.Pair.Type == "" {
			return fmt.Errorf("%w: pair scope needs insurer and type", ErrInvalidScope)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
}

// =============================================================================
// REPORT
// =============================================================================

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonNullLink     Reason = "null_link"
	ReasonStaleLink    Reason = "stale_link"
	ReasonDanglingLink Reason = "dangling_link"
	ReasonSuperseded   Reason = "superseded"
	ReasonAmountDrift  Reason = "amount_drift"
)

type Action string

const (
	ActionNone       Action = "none"       // left as is, no rate yet
	ActionRelinked   Action = "relinked"   // link set or changed
	ActionRecomputed Action = "recomputed" // link kept, amount rewritten
	ActionCleared    Action = "cleared"    // wrong link removed, no rate applies
)

// ReportEntry describes one installment the pass did not find correct.
type ReportEntry struct {
	InstallmentID InstallmentID   `json:"installment_id"`
	PolicyID      PolicyID        `json:"policy_id"`
	Reason        Reason          `json:"reason,omitempty"`
	Action        Action          `json:"action"`
	BeforeRef     string          `json:"before_ref,omitempty"`
	AfterRef      string          `json:"after_ref,omitempty"`
	BeforeAmount  decimal.Decimal `json:"before_amount"`
	AfterAmount   decimal.Decimal `json:"after_amount"`
}

// PremiumEntry describes one premium total the pass corrected.
type PremiumEntry struct {
	PolicyID PolicyID        `json:"policy_id"`
	Before   decimal.Decimal `json:"before"`
	After    decimal.Decimal `json:"after"`
}

// Report is the auditable result of a repair pass.
type Report struct {
	Scope             string         `json:"scope"`
	Examined          int            `json:"examined"`
	AlreadyCorrect    int            `json:"already_correct"`
	Corrected         int            `json:"corrected"`
	StillUncalculated int            `json:"still_uncalculated"`
	PremiumsCorrected int            `json:"premiums_corrected"`
	Interrupted       bool           `json:"interrupted,omitempty"`
	Entries           []ReportEntry  `json:"entries,omitempty"`
	Premiums          []PremiumEntry `json:"premiums,omitempty"`
}

func (r *Report) merge(o Report) {
	r.Examined += o.Examined
	r.AlreadyCorrect += o.AlreadyCorrect
	r.Corrected += o.Corrected
	r.StillUncalculated += o.StillUncalculated
	r.PremiumsCorrected += o.PremiumsCorrected
	r.Entries = append(r.Entries, o.Entries...)
	r.Premiums = append(r.Premiums, o.Premiums...)
}

// WriteText renders the report for an operator.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scope:\t%s\n", r.Scope)
	fmt.Fprintf(tw, "examined:\t%d\n", r.Examined)
	fmt.Fprintf(tw, "already correct:\t%d\n", r.AlreadyCorrect)
	fmt.Fprintf(tw, "corrected:\t%d\n", r.Corrected)
	fmt.Fprintf(tw, "still uncalculated:\t%d\n", r.StillUncalculated)
	fmt.Fprintf(tw, "premiums corrected:\t%d\n", r.PremiumsCorrected)
	if r.Interrupted {
		fmt.Fprintln(tw, "interrupted:\tyes (re-run to finish)")
	}
	if len(r.Entries) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "INSTALLMENT\tPOLICY\tREASON\tACTION\tREF\tCOMMISSION")
		for _, e := range r.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s -> %s\t%s -> %s\n",
				e.InstallmentID, e.PolicyID, orDash(string(e.Reason)), e.Action,
				orDash(e.BeforeRef), orDash(e.AfterRef),
				e.BeforeAmount.StringFixed(MoneyPlaces), e.AfterAmount.StringFixed(MoneyPlaces))
		}
	}
	if len(r.Premiums) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "POLICY\tPREMIUM TOTAL")
		for _, p := range r.Premiums {
			fmt.Fprintf(tw, "%s\t%s -> %s\n", p.PolicyID,
				p.Before.StringFixed(MoneyPlaces), p.After.StringFixed(MoneyPlaces))
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// =============================================================================
// REPAIRER
// =============================================================================

// DefaultBatchSize is the number of policies listed per page.
const DefaultBatchSize = 200

// Repairer runs repair passes. It shares the Propagator's locks and retry.
type Repairer struct {
	Propagator *Propagator
	BatchSize  int
}

// Run repairs every installment in scope. On cancellation it returns the
// partial report with Interrupted set, together with the context error.
func (r *Repairer) Run(ctx context.Context, scope Scope) (Report, error) {
	report := Report{Scope: scope.String()}
	if err := scope.Validate(); err != nil {
		return report, err
	}
	start := time.Now()
	log := r.Propagator.Logger.With(zap.Stringer("scope", scope))

	err := r.eachPolicy(ctx, scope, func(id PolicyID) error {
		part, err := r.repairPolicy(ctx, id)
		if err != nil {
			return err
		}
		report.merge(part)
		return nil
	})

	r.Propagator.Metrics.ObserveRepair(start, report.AlreadyCorrect, report.Corrected,
		report.StillUncalculated, report.PremiumsCorrected)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			report.Interrupted = true
			log.Warn("repair interrupted",
				zap.Int("examined", report.Examined),
				zap.Int("corrected", report.Corrected))
		}
		return report, err
	}

	log.Info("repair finished",
		zap.Int("examined", report.Examined),
		zap.Int("already_correct", report.AlreadyCorrect),
		zap.Int("corrected", report.Corrected),
		zap.Int("still_uncalculated", report.StillUncalculated),
		zap.Int("premiums_corrected", report.PremiumsCorrected),
		zap.Duration("took", time.Since(start)))
	return report, nil
}

// eachPolicy visits the policies in scope in ID order, page by page.
func (r *Repairer) eachPolicy(ctx context.Context, scope Scope, fn func(PolicyID) error) error {
	if scope.Kind == ScopeKindPolicy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Propagator.Store.GetPolicy(ctx, scope.PolicyID); err != nil {
			return err
		}
		return fn(scope.PolicyID)
	}

	batch := r.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	filter := PolicyFilter{Limit: batch}
	if scope.Kind == ScopeKindPair {
		pair := scope.Pair
		filter.Pair = &pair
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.Propagator.Store.ListPolicies(ctx, filter)
		if err != nil {
			return fmt.Errorf("list policies: %w", err)
		}
		for _, pol := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(pol.ID); err != nil {
				return err
			}
		}
		if len(page) < batch {
			return nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}

// repairPolicy examines one policy's schedule in one transaction.
func (r *Repairer) repairPolicy(ctx context.Context, id PolicyID) (Report, error) {
	p := r.Propagator
	var part Report

	err := p.inPolicyTx(ctx, "repair", []PolicyID{id}, func(s Store) error {
		part = Report{}
		pol, err := s.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		insts, err := s.ListInstallments(ctx, id)
		if err != nil {
			return err
		}

		for _, inst := range insts {
			part.Examined++
			res, err := p.Calculator.Calculate(ctx, s, inst, pol)
			if err != nil {
				return err
			}
			reason, err := classify(ctx, s, inst, pol, res)
			if err != nil {
				return err
			}

			if reason == ReasonNone {
				if res.Uncalculated {
					part.StillUncalculated++
					part.Entries = append(part.Entries, entryFor(inst, res, reason, ActionNone))
				} else {
					part.AlreadyCorrect++
				}
				continue
			}

			if err := s.SetCommission(ctx, inst.ID, res.RateRef(), res.Commission); err != nil {
				return fmt.Errorf("set commission of %s: %w", inst.ID, err)
			}
			action := ActionRelinked
			switch {
			case res.Uncalculated:
				action = ActionCleared
				part.StillUncalculated++
			case reason == ReasonAmountDrift:
				action = ActionRecomputed
				part.Corrected++
			default:
				part.Corrected++
			}
			part.Entries = append(part.Entries, entryFor(inst, res, reason, action))
		}

		total := SumAmounts(insts)
		if !total.Equal(pol.PremiumTotal) {
			if err := s.SetPremiumTotal(ctx, id, total, pol.Version); err != nil {
				return fmt.Errorf("set premium total of %s: %w", id, err)
			}
			part.PremiumsCorrected++
			part.Premiums = append(part.Premiums, PremiumEntry{PolicyID: id, Before: pol.PremiumTotal, After: total})
		}
		return nil
	})
	return part, err
}

// classify explains why inst does not carry res. ReasonNone if it does.
func classify(ctx context.Context, rates RateReader, inst Installment, pol Policy, res Result) (Reason, error) {
	if res.Matches(inst) {
		return ReasonNone, nil
	}
	if inst.RateRef == nil {
		if res.Uncalculated {
			return ReasonAmountDrift, nil
		}
		return ReasonNullLink, nil
	}

	linked, err := rates.GetRate(ctx, *inst.RateRef)
	if errors.Is(err, ErrRateNotFound) {
		return ReasonDanglingLink, nil
	}
	if err != nil {
		return ReasonNone, err
	}
	switch {
	case linked.Pair() != pol.Pair():
		return ReasonStaleLink, nil
	case res.Rate == nil || linked.ID != res.Rate.ID:
		return ReasonSuperseded, nil
	default:
		return ReasonAmountDrift, nil
	}
}

func entryFor(inst Installment, res Result, reason Reason, action Action) ReportEntry {
	return ReportEntry{
		InstallmentID: inst.ID,
		PolicyID:      inst.PolicyID,
		Reason:        reason,
		Action:        action,
		BeforeRef:     refString(inst.RateRef),
		AfterRef:      refString(res.RateRef()),
		BeforeAmount:  inst.CommissionAmount,
		AfterAmount:   res.Commission,
	}
}
