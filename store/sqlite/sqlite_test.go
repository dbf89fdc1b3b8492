package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/premium-engine/commission"
)

var day0 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedPolicy(t *testing.T, s *Store, id, insurer, typ string) {
	t.Helper()
	require.NoError(t, s.SavePolicy(context.Background(), commission.Policy{
		ID:              commission.PolicyID(id),
		ClientID:        "c-1",
		InsurerID:       commission.InsurerID(insurer),
		InsuranceTypeID: commission.InsuranceTypeID(typ),
		Number:          "N-" + id,
		Active:          true,
	}))
}

func seedInstallment(t *testing.T, s *Store, id, policy, amount string, offset int) {
	t.Helper()
	require.NoError(t, s.SaveInstallment(context.Background(), commission.Installment{
		ID:       commission.InstallmentID(id),
		PolicyID: commission.PolicyID(policy),
		DueDate:  day0.AddDate(0, 0, offset),
		Amount:   dec(amount),
	}))
}

// =============================================================================
// SOURCE WRITES
// =============================================================================

func TestSavePolicy_KeepsDerivedColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	require.NoError(t, s.SetPremiumTotal(ctx, "p-1", dec("300.00"), 0))

	// collaborator edits the policy
	seedPolicy(t, s, "p-1", "ins-b", "auto")

	p, err := s.GetPolicy(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, commission.InsurerID("ins-b"), p.InsurerID)
	assert.True(t, p.PremiumTotal.Equal(dec("300")))
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, "N-p-1", p.Number)
}

func TestSaveInstallment_KeepsDerivedColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-1", "p-1", "100.00", 0)
	require.NoError(t, s.SetCommission(ctx, "i-1", refPtr("r-1"), dec("10.00")))

	seedInstallment(t, s, "i-1", "p-1", "120.00", 5)

	inst, err := s.GetInstallment(ctx, "i-1")
	require.NoError(t, err)
	assert.True(t, inst.Amount.Equal(dec("120")))
	require.NotNil(t, inst.RateRef)
	assert.Equal(t, commission.RateEntryID("r-1"), *inst.RateRef)
	assert.True(t, inst.CommissionAmount.Equal(dec("10")))
	assert.True(t, inst.DueDate.Equal(day0.AddDate(0, 0, 5)))
}

func TestSaveInstallment_UnknownPolicy(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveInstallment(context.Background(), commission.Installment{
		ID: "i-1", PolicyID: "nope", DueDate: day0, Amount: dec("1"),
	})

	assert.ErrorIs(t, err, commission.ErrPolicyNotFound)
}

func TestNewInstallment_Uncalculated(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-1", "p-1", "100", 0)

	inst, err := s.GetInstallment(context.Background(), "i-1")

	require.NoError(t, err)
	assert.Nil(t, inst.RateRef)
	assert.True(t, inst.CommissionAmount.IsZero())
	assert.Nil(t, inst.PaidAt)
}

func TestDeleteInstallment_ReturnsRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-1", "p-1", "42.10", 0)

	deleted, err := s.DeleteInstallment(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, commission.PolicyID("p-1"), deleted.PolicyID)

	_, err = s.GetInstallment(ctx, "i-1")
	assert.ErrorIs(t, err, commission.ErrInstallmentNotFound)

	_, err = s.DeleteInstallment(ctx, "i-1")
	assert.ErrorIs(t, err, commission.ErrInstallmentNotFound)
}

func TestRates_HistorizedAndDeletable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveRate(ctx, commission.RateEntry{ID: "r-1", InsurerID: "ins-a", InsuranceTypeID: "auto", Percent: dec("10"), CreatedAt: day0}))
	require.NoError(t, s.SaveRate(ctx, commission.RateEntry{ID: "r-2", InsurerID: "ins-a", InsuranceTypeID: "auto", Percent: dec("12.5"), CreatedAt: day0.Add(time.Hour)}))
	require.NoError(t, s.SaveRate(ctx, commission.RateEntry{ID: "r-3", InsurerID: "ins-b", InsuranceTypeID: "auto", Percent: dec("9")}))

	pair, err := s.RatesForPair(ctx, "ins-a", "auto")
	require.NoError(t, err)
	assert.Len(t, pair, 2)

	entry, err := commission.Registry{}.Lookup(ctx, s, "ins-a", "auto")
	require.NoError(t, err)
	assert.Equal(t, commission.RateEntryID("r-2"), entry.ID)
	assert.True(t, entry.Percent.Equal(dec("12.5")))
	assert.True(t, entry.CreatedAt.Equal(day0.Add(time.Hour)))

	all, err := s.ListRates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteRate(ctx, "r-2"))
	assert.ErrorIs(t, s.DeleteRate(ctx, "r-2"), commission.ErrRateNotFound)
	_, err = s.GetRate(ctx, "r-2")
	assert.ErrorIs(t, err, commission.ErrRateNotFound)
}

// =============================================================================
// DERIVED WRITES
// =============================================================================

func TestSetPremiumTotal_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")

	require.NoError(t, s.SetPremiumTotal(ctx, "p-1", dec("10"), 0))
	err := s.SetPremiumTotal(ctx, "p-1", dec("20"), 0)
	assert.ErrorIs(t, err, commission.ErrConcurrentModification)
	assert.True(t, commission.IsRetryable(err))

	err = s.SetPremiumTotal(ctx, "nope", dec("20"), 0)
	assert.ErrorIs(t, err, commission.ErrPolicyNotFound)

	p, err := s.GetPolicy(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, p.PremiumTotal.Equal(dec("10")))
	assert.Equal(t, int64(1), p.Version)
}

func TestSetCommission_ClearsLink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-1", "p-1", "100", 0)
	require.NoError(t, s.SetCommission(ctx, "i-1", refPtr("r-1"), dec("10")))

	require.NoError(t, s.SetCommission(ctx, "i-1", nil, decimal.Zero))

	inst, err := s.GetInstallment(ctx, "i-1")
	require.NoError(t, err)
	assert.Nil(t, inst.RateRef)
	assert.ErrorIs(t, s.SetCommission(ctx, "nope", nil, decimal.Zero), commission.ErrInstallmentNotFound)
}

func TestListPolicies_FilterAndCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"p-3", "p-1", "p-2", "p-4"} {
		seedPolicy(t, s, id, "ins-a", "auto")
	}
	seedPolicy(t, s, "p-0", "ins-b", "auto")

	pair := commission.Pair{Insurer: "ins-a", Type: "auto"}
	page, err := s.ListPolicies(ctx, commission.PolicyFilter{Pair: &pair, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, commission.PolicyID("p-1"), page[0].ID)
	assert.Equal(t, commission.PolicyID("p-2"), page[1].ID)

	page, err = s.ListPolicies(ctx, commission.PolicyFilter{Pair: &pair, AfterID: "p-2", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, commission.PolicyID("p-3"), page[0].ID)

	all, err := s.ListPolicies(ctx, commission.PolicyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestListInstallments_OrderedByDueDate(t *testing.T) {
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-b", "p-1", "1", 30)
	seedInstallment(t, s, "i-a", "p-1", "1", 0)
	seedInstallment(t, s, "i-c", "p-1", "1", 30)

	insts, err := s.ListInstallments(context.Background(), "p-1")

	require.NoError(t, err)
	require.Len(t, insts, 3)
	assert.Equal(t, commission.InstallmentID("i-a"), insts[0].ID)
	assert.Equal(t, commission.InstallmentID("i-b"), insts[1].ID)
	assert.Equal(t, commission.InstallmentID("i-c"), insts[2].ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-1", "p-1", "100", 0)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx commission.Store) error {
		if err := tx.SetCommission(ctx, "i-1", refPtr("r-1"), dec("10")); err != nil {
			return err
		}
		if err := tx.SetPremiumTotal(ctx, "p-1", dec("100"), 0); err != nil {
			return err
		}
		// reads inside the tx see its own writes
		p, err := tx.GetPolicy(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Version)
		return boom
	})
	require.ErrorIs(t, err, boom)

	inst, err := s.GetInstallment(ctx, "i-1")
	require.NoError(t, err)
	assert.Nil(t, inst.RateRef)
	p, err := s.GetPolicy(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Version)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_EndToEnd(t *testing.T) {
	// GIVEN: a rate for (ins-a, property) and a policy under it
	ctx := context.Background()
	s := newTestStore(t)
	eng := commission.NewEngine(s, commission.Options{BatchSize: 1})
	require.NoError(t, s.SaveRate(ctx, commission.RateEntry{ID: "r-1", InsurerID: "ins-a", InsuranceTypeID: "property", Percent: dec("12.50"), CreatedAt: day0}))
	seedPolicy(t, s, "p-1", "ins-a", "property")

	// WHEN: an installment of 1000.00 is saved
	seedInstallment(t, s, "i-1", "p-1", "1000.00", 0)
	out, err := eng.OnInstallmentSaved(ctx, "i-1")
	require.NoError(t, err)

	// THEN: commission and premium are derived
	assert.Equal(t, "1000.00", out.PremiumTotal.StringFixed(2))
	inst, err := s.GetInstallment(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "125.00", inst.CommissionAmount.StringFixed(2))

	// AND: an uncovered pair picked up later by the fan-out
	seedPolicy(t, s, "p-2", "ins-b", "auto")
	seedInstallment(t, s, "i-2", "p-2", "100.00", 0)
	seedInstallment(t, s, "i-3", "p-2", "50.00", 30)
	_, err = eng.OnInstallmentSaved(ctx, "i-2")
	require.NoError(t, err)
	_, err = eng.OnInstallmentSaved(ctx, "i-3")
	require.NoError(t, err)

	rate := commission.RateEntry{ID: "r-2", InsurerID: "ins-b", InsuranceTypeID: "auto", Percent: dec("10"), CreatedAt: day0}
	require.NoError(t, s.SaveRate(ctx, rate))
	require.NoError(t, eng.OnRateEntryChanged(ctx, rate))

	runs, err := eng.RepairRuns(ctx, commission.RunCompleted)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Report.Corrected)
	require.Len(t, runs[0].Report.Entries, 2)
	assert.Equal(t, "5.00", runs[0].Report.Entries[1].AfterAmount.StringFixed(2))

	report, err := eng.RunRepair(ctx, commission.ScopeAll())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Corrected)
	assert.Equal(t, 3, report.AlreadyCorrect)
}

func TestRepairRuns_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	done := day0.Add(time.Minute)

	require.NoError(t, s.SaveRepairRun(ctx, commission.RepairRun{
		ID: "run-1", Scope: "all", Trigger: commission.TriggerSchedule,
		Status: commission.RunRunning, StartedAt: day0,
	}))
	require.NoError(t, s.SaveRepairRun(ctx, commission.RepairRun{
		ID: "run-1", Scope: "all", Trigger: commission.TriggerSchedule,
		Status: commission.RunCompleted, StartedAt: day0, CompletedAt: &done,
		Report: commission.Report{Scope: "all", Examined: 4, Corrected: 1},
	}))
	require.NoError(t, s.SaveRepairRun(ctx, commission.RepairRun{
		ID: "run-2", Scope: "policy:p-1", Trigger: commission.TriggerOperator,
		Status: commission.RunFailed, Error: "policy not found", StartedAt: day0.Add(time.Hour),
	}))

	all, err := s.ListRepairRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].ID)

	completed, err := s.ListRepairRuns(ctx, commission.RunCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, 4, completed[0].Report.Examined)
	assert.Equal(t, 1, completed[0].Report.Corrected)
	require.NotNil(t, completed[0].CompletedAt)
	assert.True(t, completed[0].CompletedAt.Equal(done))
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedPolicy(t, s, "p-1", "ins-a", "auto")
	seedInstallment(t, s, "i-1", "p-1", "1", 0)

	require.NoError(t, s.Reset(ctx))

	all, err := s.ListPolicies(ctx, commission.PolicyFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
