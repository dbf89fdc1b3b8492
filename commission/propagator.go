/*
propagator.go - Consistency propagator

PURPOSE:
  Decides, for a given trigger, which derived values are stale, recomputes
  them with the Calculator and Aggregator, and persists the result in one
  transaction.

TRIGGERS:
  InstallmentSaved:  recalc that installment + premium total
  InstallmentMoved:  as Saved, plus premium total of the former policy
  InstallmentDeleted: premium total of the former policy
  PolicyReassigned:  recalc every installment on the policy + premium total
  (Rate-table edits fan out through the Dispatcher, see fanout.go.)

SERIALIZATION:
  Writes for one policy are serialized in-process by a keyed lock, and
  across processes by the optimistic Version on the policy row. A lost
  race is retried once after re-reading; a second loss is returned as
  *TransientError.

NOT AN ERROR:
  An unresolvable rate. The installment is stored with a nil link and zero
  commission, and the triggering save still succeeds.
*/
package commission

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/premium-engine/internal/metrics"
)

// Outcome summarizes what a trigger changed.
type Outcome struct {
	PolicyID     PolicyID
	PremiumTotal decimal.Decimal
	Recalculated []InstallmentID // installments whose derived fields were written
	Uncalculated []InstallmentID // installments left without a rate link
}

// Propagator applies triggers to the store.
type Propagator struct {
	Store      TxStore
	Calculator Calculator
	Aggregator Aggregator
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	locks policyLocks
}

func NewPropagator(store TxStore, logger *zap.Logger, m *metrics.Metrics) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		Store:   store,
		Logger:  logger,
		Metrics: m,
	}
}

// =============================================================================
// TRIGGERS
// =============================================================================

// InstallmentSaved handles a created installment or a changed amount.
func (p *Propagator) InstallmentSaved(ctx context.Context, id InstallmentID) (Outcome, error) {
	inst, err := p.Store.GetInstallment(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	p.Metrics.IncTrigger("installment_saved")

	var out Outcome
	err = p.inPolicyTx(ctx, "installment_saved", []PolicyID{inst.PolicyID}, func(s Store) error {
		out = Outcome{PolicyID: inst.PolicyID}
		return p.recalcOne(ctx, s, id, &out)
	})
	return out, err
}

// InstallmentMoved handles an installment re-attached from one policy to another.
func (p *Propagator) InstallmentMoved(ctx context.Context, id InstallmentID, from PolicyID) (Outcome, error) {
	inst, err := p.Store.GetInstallment(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if inst.PolicyID == from {
		return p.InstallmentSaved(ctx, id)
	}
	p.Metrics.IncTrigger("installment_moved")

	var out Outcome
	err = p.inPolicyTx(ctx, "installment_moved", []PolicyID{from, inst.PolicyID}, func(s Store) error {
		out = Outcome{PolicyID: inst.PolicyID}
		if err := p.syncFormer(ctx, s, from); err != nil {
			return err
		}
		return p.recalcOne(ctx, s, id, &out)
	})
	return out, err
}

// InstallmentDeleted re-aggregates the installment's former policy.
func (p *Propagator) InstallmentDeleted(ctx context.Context, inst Installment) (Outcome, error) {
	p.Metrics.IncTrigger("installment_deleted")

	var out Outcome
	err := p.inPolicyTx(ctx, "installment_deleted", []PolicyID{inst.PolicyID}, func(s Store) error {
		out = Outcome{PolicyID: inst.PolicyID}
		pol, err := s.GetPolicy(ctx, inst.PolicyID)
		if IsNotFound(err) {
			// policy deleted along with its schedule
			return nil
		}
		if err != nil {
			return err
		}
		total, _, err := p.Aggregator.Sync(ctx, s, pol)
		if err != nil {
			return err
		}
		out.PremiumTotal = total
		return nil
	})
	if err == nil {
		p.Logger.Debug("installment deleted",
			zap.String("installment_id", string(inst.ID)),
			zap.String("policy_id", string(inst.PolicyID)),
			zap.String("premium_total", out.PremiumTotal.StringFixed(MoneyPlaces)))
	}
	return out, err
}

// PolicyReassigned re-resolves every installment after the policy's insurer
// or insurance type changed. old is the pair before the change, for logging.
func (p *Propagator) PolicyReassigned(ctx context.Context, policyID PolicyID, old Pair) (Outcome, error) {
	p.Metrics.IncTrigger("policy_reassigned")

	var out Outcome
	var current Pair
	err := p.inPolicyTx(ctx, "policy_reassigned", []PolicyID{policyID}, func(s Store) error {
		out = Outcome{PolicyID: policyID}
		pol, err := s.GetPolicy(ctx, policyID)
		if err != nil {
			return err
		}
		current = pol.Pair()

		insts, err := s.ListInstallments(ctx, policyID)
		if err != nil {
			return err
		}
		for _, inst := range insts {
			if err := p.apply(ctx, s, inst, pol, &out); err != nil {
				return err
			}
		}

		pol, err = s.GetPolicy(ctx, policyID)
		if err != nil {
			return err
		}
		total, _, err := p.Aggregator.Sync(ctx, s, pol)
		if err != nil {
			return err
		}
		out.PremiumTotal = total
		return nil
	})
	if err != nil {
		return out, err
	}

	p.Logger.Info("policy reassigned",
		zap.String("policy_id", string(policyID)),
		zap.Stringer("old_pair", old),
		zap.Stringer("new_pair", current),
		zap.Int("recalculated", len(out.Recalculated)),
		zap.Int("uncalculated", len(out.Uncalculated)))
	return out, nil
}

// =============================================================================
// STEPS
// =============================================================================

// recalcOne recalculates one installment and re-aggregates its policy.
func (p *Propagator) recalcOne(ctx context.Context, s Store, id InstallmentID, out *Outcome) error {
	inst, err := s.GetInstallment(ctx, id)
	if err != nil {
		return err
	}
	pol, err := s.GetPolicy(ctx, inst.PolicyID)
	if err != nil {
		return err
	}
	if err := p.apply(ctx, s, inst, pol, out); err != nil {
		return err
	}
	total, _, err := p.Aggregator.Sync(ctx, s, pol)
	if err != nil {
		return err
	}
	out.PremiumTotal = total
	return nil
}

// apply runs the Calculator for inst and writes the result if it differs.
func (p *Propagator) apply(ctx context.Context, s Store, inst Installment, pol Policy, out *Outcome) error {
	res, err := p.Calculator.Calculate(ctx, s, inst, pol)
	if err != nil {
		return err
	}
	p.Metrics.ObserveCommission(!res.Uncalculated)
	if res.Uncalculated {
		out.Uncalculated = append(out.Uncalculated, inst.ID)
	}
	if res.Matches(inst) {
		return nil
	}
	if err := s.SetCommission(ctx, inst.ID, res.RateRef(), res.Commission); err != nil {
		return fmt.Errorf("set commission of %s: %w", inst.ID, err)
	}
	out.Recalculated = append(out.Recalculated, inst.ID)
	return nil
}

func (p *Propagator) syncFormer(ctx context.Context, s Store, id PolicyID) error {
	pol, err := s.GetPolicy(ctx, id)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	_, _, err = p.Aggregator.Sync(ctx, s, pol)
	return err
}

// =============================================================================
// TRANSACTION + RETRY
// =============================================================================

// inPolicyTx runs fn in one transaction while holding the locks of ids.
// fn must do all its reads through the Store it is given so the retry sees
// fresh state.
func (p *Propagator) inPolicyTx(ctx context.Context, op string, ids []PolicyID, fn func(Store) error) error {
	unlock := p.locks.lock(ids...)
	defer unlock()

	err := p.Store.WithTx(ctx, fn)
	if !IsRetryable(err) {
		return err
	}

	p.Metrics.IncConflict()
	p.Logger.Warn("write conflict, retrying",
		zap.String("op", op),
		zap.String("policy_id", string(ids[len(ids)-1])),
		zap.Error(err))

	err = p.Store.WithTx(ctx, fn)
	if !IsRetryable(err) {
		return err
	}
	p.Metrics.IncTransientFailure()
	return &TransientError{Op: op, PolicyID: ids[len(ids)-1], Err: err}
}

// policyLocks is a keyed mutex. Entries are dropped when unused.
type policyLocks struct {
	mu sync.Mutex
	m  map[PolicyID]*policyLock
}

type policyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the locks of ids in sorted order and returns the release func.
func (l *policyLocks) lock(ids ...PolicyID) func() {
	sorted := make([]PolicyID, 0, len(ids))
	seen := make(map[PolicyID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	held := make([]*policyLock, 0, len(sorted))
	for _, id := range sorted {
		l.mu.Lock()
		if l.m == nil {
			l.m = make(map[PolicyID]*policyLock)
		}
		pl, ok := l.m[id]
		if !ok {
			pl = &policyLock{}
			l.m[id] = pl
		}
		pl.refs++
		l.mu.Unlock()

		pl.mu.Lock()
		held = append(held, pl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.m, sorted[i])
			}
			l.mu.Unlock()
		}
	}
}
