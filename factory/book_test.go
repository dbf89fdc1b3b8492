package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/premium-engine/commission"
	"github.com/warp/premium-engine/commission/store"
)

const sampleBook = `{
  "insurers": [{"id": "ins-a", "name": "Acme Mutual"}],
  "insurance_types": [{"id": "property", "name": "Property"}, {"id": "auto", "name": "Auto"}],
  "clients": [{"id": "c-1", "name": "Jane Roe"}],
  "rates": [
    {"id": "r-1", "insurer_id": "ins-a", "insurance_type_id": "property", "percent": "12.50",
     "created_at": "2025-01-01T00:00:00Z"}
  ],
  "policies": [
    {"id": "p-1", "client_id": "c-1", "insurer_id": "ins-a", "insurance_type_id": "property",
     "number": "PRP-1",
     "installments": [
       {"id": "i-1", "due_date": "2025-02-01", "amount": "1000.00"},
       {"id": "i-2", "due_date": "2025-03-01", "amount": 333.33}
     ]},
    {"id": "p-2", "client_id": "c-1", "insurer_id": "ins-a", "insurance_type_id": "auto",
     "installments": [{"id": "i-3", "due_date": "2025-02-01", "amount": "80"}]}
  ]
}`

func TestParseBook_Valid(t *testing.T) {
	book, err := ParseBook([]byte(sampleBook))

	require.NoError(t, err)
	assert.Len(t, book.Insurers, 1)
	assert.Len(t, book.InsuranceTypes, 2)
	require.Len(t, book.Rates, 1)
	assert.True(t, book.Rates[0].CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Len(t, book.Policies, 2)
	assert.True(t, book.Policies[0].Active)
	require.Len(t, book.Installments, 3)
	assert.Equal(t, commission.PolicyID("p-2"), book.Installments[2].PolicyID)
	assert.Equal(t, "333.33", book.Installments[1].Amount.StringFixed(2))
}

func TestParseBook_Invalid(t *testing.T) {
	cases := map[string]string{
		"malformed":        `{"policies": [`,
		"missing id":       `{"insurers": [{"name": "x"}]}`,
		"duplicate":        `{"clients": [{"id": "c"}, {"id": "c"}]}`,
		"percent range":    `{"rates": [{"id": "r", "insurer_id": "a", "insurance_type_id": "t", "percent": "101"}]}`,
		"negative amount":  `{"policies": [{"id": "p", "insurer_id": "a", "insurance_type_id": "t", "installments": [{"id": "i", "due_date": "2025-01-01", "amount": "-1"}]}]}`,
		"sub-cent amount":  `{"policies": [{"id": "p", "insurer_id": "a", "insurance_type_id": "t", "installments": [{"id": "i", "due_date": "2025-01-01", "amount": "1.005"}]}]}`,
		"bad due date":     `{"policies": [{"id": "p", "insurer_id": "a", "insurance_type_id": "t", "installments": [{"id": "i", "due_date": "01/02/2025", "amount": "1"}]}]}`,
		"policy sans pair": `{"policies": [{"id": "p"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBook([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidBook)
		})
	}
}

func TestApply_DerivesThroughEngine(t *testing.T) {
	// GIVEN: a parsed book and an empty store
	ctx := context.Background()
	book, err := ParseBook([]byte(sampleBook))
	require.NoError(t, err)
	mem := store.NewMemory()
	eng := commission.NewEngine(mem, commission.Options{})

	// WHEN: applying it
	sum, err := Apply(ctx, mem, eng, book)

	// THEN: every installment went through the save trigger
	require.NoError(t, err)
	assert.Equal(t, Summary{Rates: 1, Policies: 2, Installments: 3, Uncalculated: 1}, sum)

	p1, err := mem.GetPolicy(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "1333.33", p1.PremiumTotal.StringFixed(2))

	i2, err := mem.GetInstallment(ctx, "i-2")
	require.NoError(t, err)
	assert.Equal(t, "41.67", i2.CommissionAmount.StringFixed(2))

	i3, err := mem.GetInstallment(ctx, "i-3")
	require.NoError(t, err)
	assert.Nil(t, i3.RateRef)
}

const reseedBook = `{
  "rates": [
    {"id": "r-1", "insurer_id": "ins-a", "insurance_type_id": "property", "percent": "20",
     "created_at": "2025-01-01T00:00:00Z"}
  ],
  "policies": [
    {"id": "p-2", "client_id": "c-1", "insurer_id": "ins-a", "insurance_type_id": "property"}
  ]
}`

func TestApply_ReseedFiresChangeTriggers(t *testing.T) {
	// GIVEN: the sample book already applied
	ctx := context.Background()
	mem := store.NewMemory()
	eng := commission.NewEngine(mem, commission.Options{})
	first, err := ParseBook([]byte(sampleBook))
	require.NoError(t, err)
	_, err = Apply(ctx, mem, eng, first)
	require.NoError(t, err)

	// WHEN: a second book raises r-1 to 20% and moves p-2 onto its pair
	second, err := ParseBook([]byte(reseedBook))
	require.NoError(t, err)
	sum, err := Apply(ctx, mem, eng, second)

	// THEN: the rate fanned out and the policy was reassigned
	require.NoError(t, err)
	assert.Equal(t, Summary{Rates: 1, Policies: 1, RateChanges: 1, Reassigned: 1}, sum)

	// AND: installments the second book never named follow the new values
	i1, err := mem.GetInstallment(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "200.00", i1.CommissionAmount.StringFixed(2))

	i3, err := mem.GetInstallment(ctx, "i-3")
	require.NoError(t, err)
	require.NotNil(t, i3.RateRef)
	assert.Equal(t, commission.RateEntryID("r-1"), *i3.RateRef)
	assert.Equal(t, "16.00", i3.CommissionAmount.StringFixed(2))
}

func TestApply_ReseedMovesInstallment(t *testing.T) {
	// GIVEN: the sample book already applied
	ctx := context.Background()
	mem := store.NewMemory()
	eng := commission.NewEngine(mem, commission.Options{})
	first, err := ParseBook([]byte(sampleBook))
	require.NoError(t, err)
	_, err = Apply(ctx, mem, eng, first)
	require.NoError(t, err)

	// WHEN: a second book lists i-3 under p-1
	second, err := ParseBook([]byte(`{"policies": [
	  {"id": "p-1", "client_id": "c-1", "insurer_id": "ins-a", "insurance_type_id": "property",
	   "installments": [{"id": "i-3", "due_date": "2025-02-01", "amount": "80"}]}
	]}`))
	require.NoError(t, err)
	sum, err := Apply(ctx, mem, eng, second)

	// THEN: both premiums reflect the move
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Moved)

	p1, err := mem.GetPolicy(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "1413.33", p1.PremiumTotal.StringFixed(2))

	p2, err := mem.GetPolicy(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "0.00", p2.PremiumTotal.StringFixed(2))

	i3, err := mem.GetInstallment(ctx, "i-3")
	require.NoError(t, err)
	assert.Equal(t, "10.00", i3.CommissionAmount.StringFixed(2))
}
