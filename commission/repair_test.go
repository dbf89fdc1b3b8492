package commission_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/premium-engine/commission"
)

// =============================================================================
// RATE-CHANGE FAN-OUT
// =============================================================================

func TestRateEntryCreated_UncoveredPair_FanOutLinksInstallments(t *testing.T) {
	// GIVEN: a policy with two installments saved before any rate existed
	// WHEN: a rate entry is created for the pair and the fan-out runs
	// THEN: both installments gain the link and the correct commission

	b := newBook(t)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100.00", 0)
	b.installment("i-2", "p-1", "250.00", 30)
	require.Nil(t, b.inst("i-1").RateRef)

	rate := b.rate("r-1", "ins-a", "auto", "12", t0)
	require.NoError(t, b.eng.OnRateEntryChanged(b.ctx, rate))

	assert.Equal(t, "r-1", refOf(b.inst("i-1")))
	assert.Equal(t, "r-1", refOf(b.inst("i-2")))
	assertMoney(t, "12.00", b.inst("i-1").CommissionAmount)
	assertMoney(t, "30.00", b.inst("i-2").CommissionAmount)
	b.assertInvariants()

	runs, err := b.eng.RepairRuns(b.ctx, commission.RunCompleted)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, commission.TriggerRateChange, runs[0].Trigger)
	assert.Equal(t, 2, runs[0].Report.Corrected)
	assert.Equal(t, "pair:ins-a/auto", runs[0].Scope)
}

func TestRepair_UncoveredPairGetsRate_ReportsCorrectedTwo(t *testing.T) {
	b := newBook(t)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100.00", 0)
	b.installment("i-2", "p-1", "250.00", 30)
	b.rate("r-1", "ins-a", "auto", "12", t0)

	report, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 2, report.Corrected)
	assert.Equal(t, 0, report.AlreadyCorrect)
	assert.Equal(t, 0, report.StillUncalculated)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, commission.ReasonNullLink, report.Entries[0].Reason)
	assert.Equal(t, commission.ActionRelinked, report.Entries[0].Action)
}

func TestRateEntryEdited_PercentChanged_AmountsRecomputed(t *testing.T) {
	b := newBook(t)
	rate := b.rate("r-1", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)

	rate.Percent = dec("12.5")
	require.NoError(t, b.mem.SaveRate(b.ctx, rate))
	require.NoError(t, b.eng.OnRateEntryChanged(b.ctx, rate))

	assertMoney(t, "12.50", b.inst("i-1").CommissionAmount)
	b.assertInvariants()
}

func TestRateEntryCreated_OtherPairsUntouched(t *testing.T) {
	b := newBook(t)
	b.policy("p-1", "ins-a", "auto")
	b.policy("p-2", "ins-b", "auto")
	b.installment("i-1", "p-1", "100", 0)
	b.installment("i-2", "p-2", "100", 0)

	rate := b.rate("r-1", "ins-a", "auto", "10", t0)
	require.NoError(t, b.eng.OnRateEntryChanged(b.ctx, rate))

	assert.Equal(t, "r-1", refOf(b.inst("i-1")))
	assert.Nil(t, b.inst("i-2").RateRef)
}

// =============================================================================
// REPAIR TOOL
// =============================================================================

func TestRepair_SecondRun_NoCorrections(t *testing.T) {
	// GIVEN: a book with missing links across several policies (batched)
	// WHEN: the repair tool runs twice
	// THEN: the second run corrects nothing

	b := newBook(t)
	b.rate("r-a", "ins-a", "auto", "10", t0)
	for _, p := range []string{"p-1", "p-2", "p-3", "p-4", "p-5"} {
		b.policy(p, "ins-a", "auto")
		b.saveRow(p+"-i1", p, "100", 0)
		b.saveRow(p+"-i2", p, "50", 30)
	}
	b.policy("p-6", "ins-z", "auto")
	b.saveRow("p-6-i1", "p-6", "70", 0)

	first, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())
	require.NoError(t, err)
	assert.Equal(t, 11, first.Examined)
	assert.Equal(t, 10, first.Corrected)
	assert.Equal(t, 1, first.StillUncalculated)
	assert.Equal(t, 6, first.PremiumsCorrected)

	second, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())
	require.NoError(t, err)
	assert.Equal(t, 11, second.Examined)
	assert.Equal(t, 0, second.Corrected)
	assert.Equal(t, 0, second.PremiumsCorrected)
	assert.Equal(t, 10, second.AlreadyCorrect)
	assert.Equal(t, 1, second.StillUncalculated)
	b.assertInvariants()
}

func TestRepair_StaleLinkToOtherInsurer_Relinked(t *testing.T) {
	// GIVEN: a policy whose insurer changed without the reassignment hook
	b := newBook(t)
	b.rate("r-a", "ins-a", "auto", "10", t0)
	b.rate("r-b", "ins-b", "auto", "20", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)

	p := b.pol("p-1")
	p.InsurerID = "ins-b"
	require.NoError(t, b.mem.SavePolicy(b.ctx, p))

	// WHEN: repairing the single policy
	report, err := b.eng.RunRepair(b.ctx, commission.ScopePolicy("p-1"))

	// THEN: the stale link is detected and corrected
	require.NoError(t, err)
	assert.Equal(t, 1, report.Corrected)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, commission.ReasonStaleLink, report.Entries[0].Reason)
	assert.Equal(t, "r-a", report.Entries[0].BeforeRef)
	assert.Equal(t, "r-b", report.Entries[0].AfterRef)
	assertMoney(t, "20.00", b.inst("i-1").CommissionAmount)
}

func TestRepair_StaleLinkNoRate_ClearedAndStillUncalculated(t *testing.T) {
	b := newBook(t)
	b.rate("r-a", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)

	p := b.pol("p-1")
	p.InsurerID = "ins-none"
	require.NoError(t, b.mem.SavePolicy(b.ctx, p))

	report, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())

	require.NoError(t, err)
	assert.Equal(t, 0, report.Corrected)
	assert.Equal(t, 1, report.StillUncalculated)
	assert.Equal(t, commission.ActionCleared, report.Entries[0].Action)
	assert.Nil(t, b.inst("i-1").RateRef)
	b.assertInvariants()

	again, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Corrected)
	assert.Equal(t, commission.ActionNone, again.Entries[0].Action)
}

func TestRepair_DanglingLink_Relinked(t *testing.T) {
	b := newBook(t)
	b.rate("r-old", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)
	require.NoError(t, b.mem.DeleteRate(b.ctx, "r-old"))
	b.rate("r-new", "ins-a", "auto", "11", t0.AddDate(0, 0, 1))

	report, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())

	require.NoError(t, err)
	assert.Equal(t, commission.ReasonDanglingLink, report.Entries[0].Reason)
	assert.Equal(t, "r-new", refOf(b.inst("i-1")))
}

func TestRepair_SupersededEntry_MovedToLatest(t *testing.T) {
	b := newBook(t)
	b.rate("r-1", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)
	b.rate("r-2", "ins-a", "auto", "12", t0.AddDate(0, 6, 0))

	report, err := b.eng.RunRepair(b.ctx, commission.ScopePair("ins-a", "auto"))

	require.NoError(t, err)
	assert.Equal(t, 1, report.Corrected)
	assert.Equal(t, commission.ReasonSuperseded, report.Entries[0].Reason)
	assertMoney(t, "12.00", b.inst("i-1").CommissionAmount)
}

func TestRepair_AmountDrift_Recomputed(t *testing.T) {
	b := newBook(t)
	b.rate("r-1", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)
	require.NoError(t, b.mem.SetCommission(b.ctx, "i-1", commission.RefPtr("r-1"), dec("99.99")))

	report, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Corrected)
	assert.Equal(t, commission.ReasonAmountDrift, report.Entries[0].Reason)
	assert.Equal(t, commission.ActionRecomputed, report.Entries[0].Action)
	assertMoney(t, "10.00", b.inst("i-1").CommissionAmount)
}

func TestRepair_AlreadyCorrect_NotWritten(t *testing.T) {
	b := newBook(t)
	b.rate("r-1", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)
	version := b.pol("p-1").Version

	report, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())

	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadyCorrect)
	assert.Empty(t, report.Entries)
	assert.Equal(t, version, b.pol("p-1").Version, "no premium write for a correct policy")
}

func TestRepair_CancelledContext_InterruptedAndResumable(t *testing.T) {
	b := newBook(t)
	b.rate("r-1", "ins-a", "auto", "10", t0)
	b.policy("p-1", "ins-a", "auto")
	b.saveRow("i-1", "p-1", "100", 0)

	ctx, cancel := context.WithCancel(b.ctx)
	cancel()
	report, err := b.eng.RunRepair(ctx, commission.ScopeAll())

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	runs, err := b.eng.RepairRuns(b.ctx, commission.RunInterrupted)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	resumed, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.Corrected)
}

func TestRepair_InvalidScope(t *testing.T) {
	b := newBook(t)

	_, err := b.eng.RunRepair(b.ctx, commission.Scope{Kind: commission.ScopeKindPair})

	assert.ErrorIs(t, err, commission.ErrInvalidScope)
}

func TestRepair_UnknownPolicy_NotFound(t *testing.T) {
	b := newBook(t)

	_, err := b.eng.RunRepair(b.ctx, commission.ScopePolicy("nope"))

	assert.ErrorIs(t, err, commission.ErrPolicyNotFound)
}

func TestReport_WriteText_ListsAffectedInstallments(t *testing.T) {
	b := newBook(t)
	b.policy("p-1", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)
	b.rate("r-1", "ins-a", "auto", "10", t0)

	report, err := b.eng.RunRepair(b.ctx, commission.ScopeAll())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "corrected:")
	assert.Contains(t, out, "i-1")
	assert.Contains(t, out, "null_link")
	assert.Contains(t, out, "0.00 -> 10.00")
}
