package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/premium-engine/commission"
	"github.com/warp/premium-engine/commission/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type book struct {
	t   *testing.T
	ctx context.Context
	mem *store.Memory
	eng *commission.Engine
}

func newBook(t *testing.T) *book {
	t.Helper()
	mem := store.NewMemory()
	return &book{
		t:   t,
		ctx: context.Background(),
		mem: mem,
		eng: commission.NewEngine(mem, commission.Options{BatchSize: 2}),
	}
}

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, dec(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

func (b *book) rate(id, insurer, typ, percent string, createdAt time.Time) commission.RateEntry {
	b.t.Helper()
	r := commission.RateEntry{
		ID:              commission.RateEntryID(id),
		InsurerID:       commission.InsurerID(insurer),
		InsuranceTypeID: commission.InsuranceTypeID(typ),
		Percent:         dec(percent),
		CreatedAt:       createdAt,
	}
	require.NoError(b.t, b.mem.SaveRate(b.ctx, r))
	return r
}

func (b *book) policy(id, insurer, typ string) {
	b.t.Helper()
	require.NoError(b.t, b.mem.SavePolicy(b.ctx, commission.Policy{
		ID:              commission.PolicyID(id),
		ClientID:        "client-1",
		InsurerID:       commission.InsurerID(insurer),
		InsuranceTypeID: commission.InsuranceTypeID(typ),
		Active:          true,
	}))
}

// reassign changes the policy's pair the way the CRUD layer would, then
// calls the engine.
func (b *book) reassign(id, insurer, typ string) commission.Outcome {
	b.t.Helper()
	old := b.pol(id)
	updated := old
	updated.InsurerID = commission.InsurerID(insurer)
	updated.InsuranceTypeID = commission.InsuranceTypeID(typ)
	require.NoError(b.t, b.mem.SavePolicy(b.ctx, updated))

	out, err := b.eng.OnPolicyReassigned(b.ctx, old.ID, old.InsurerID, old.InsuranceTypeID)
	require.NoError(b.t, err)
	return out
}

// installment saves the row and runs the save trigger.
func (b *book) installment(id, policy, amount string, dueOffsetDays int) commission.Outcome {
	b.t.Helper()
	b.saveRow(id, policy, amount, dueOffsetDays)
	out, err := b.eng.OnInstallmentSaved(b.ctx, commission.InstallmentID(id))
	require.NoError(b.t, err)
	return out
}

// saveRow writes the installment row without calling the engine, like a
// collaborator that forgot the hook.
func (b *book) saveRow(id, policy, amount string, dueOffsetDays int) {
	b.t.Helper()
	require.NoError(b.t, b.mem.SaveInstallment(b.ctx, commission.Installment{
		ID:       commission.InstallmentID(id),
		PolicyID: commission.PolicyID(policy),
		DueDate:  t0.AddDate(0, 0, dueOffsetDays),
		Amount:   dec(amount),
	}))
}

func (b *book) inst(id string) commission.Installment {
	b.t.Helper()
	inst, err := b.mem.GetInstallment(b.ctx, commission.InstallmentID(id))
	require.NoError(b.t, err)
	return inst
}

func (b *book) pol(id string) commission.Policy {
	b.t.Helper()
	p, err := b.mem.GetPolicy(b.ctx, commission.PolicyID(id))
	require.NoError(b.t, err)
	return p
}

// assertInvariants checks the three invariants over the whole book.
func (b *book) assertInvariants() {
	b.t.Helper()
	policies, err := b.mem.ListPolicies(b.ctx, commission.PolicyFilter{})
	require.NoError(b.t, err)
	for _, p := range policies {
		insts, err := b.mem.ListInstallments(b.ctx, p.ID)
		require.NoError(b.t, err)
		assertMoney(b.t, commission.SumAmounts(insts).String(), p.PremiumTotal, "premium total of %s", p.ID)

		for _, inst := range insts {
			if inst.RateRef == nil {
				assert.True(b.t, inst.CommissionAmount.IsZero(), "uncalculated %s carries a commission", inst.ID)
				continue
			}
			rate, err := b.mem.GetRate(b.ctx, *inst.RateRef)
			require.NoError(b.t, err)
			assert.Equal(b.t, p.Pair(), rate.Pair(), "link of %s is stale", inst.ID)
			assertMoney(b.t, commission.CommissionFor(inst.Amount, rate.Percent).String(), inst.CommissionAmount,
				"commission of %s", inst.ID)
		}
	}
}

func refOf(inst commission.Installment) string {
	if inst.RateRef == nil {
		return ""
	}
	return string(*inst.RateRef)
}
