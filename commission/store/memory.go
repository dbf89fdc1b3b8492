// Package store provides an in-memory commission.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/premium-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	t  tables
}

type tables struct {
	insurers     map[commission.InsurerID]commission.Insurer
	types        map[commission.InsuranceTypeID]commission.InsuranceType
	clients      map[commission.ClientID]commission.Client
	policies     map[commission.PolicyID]commission.Policy
	installments map[commission.InstallmentID]commission.Installment
	rates        map[commission.RateEntryID]commission.RateEntry
	runs         map[string]commission.RepairRun
}

func newTables() tables {
	return tables{
		insurers:     make(map[commission.InsurerID]commission.Insurer),
		types:        make(map[commission.InsuranceTypeID]commission.InsuranceType),
		clients:      make(map[commission.ClientID]commission.Client),
		policies:     make(map[commission.PolicyID]commission.Policy),
		installments: make(map[commission.InstallmentID]commission.Installment),
		rates:        make(map[commission.RateEntryID]commission.RateEntry),
		runs:         make(map[string]commission.RepairRun),
	}
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

// =============================================================================
// CRUD - What the collaborator writes
// =============================================================================

func (m *Memory) SaveInsurer(_ context.Context, in commission.Insurer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.insurers[in.ID] = in
	return nil
}

func (m *Memory) SaveInsuranceType(_ context.Context, it commission.InsuranceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.types[it.ID] = it
	return nil
}

func (m *Memory) SaveClient(_ context.Context, c commission.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.clients[c.ID] = c
	return nil
}

// SavePolicy upserts the policy's source fields. PremiumTotal and Version
// are kept from the stored row.
func (m *Memory) SavePolicy(_ context.Context, p commission.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.t.policies[p.ID]; ok {
		p.PremiumTotal = old.PremiumTotal
		p.Version = old.Version
	} else {
		p.PremiumTotal = decimal.Zero
		p.Version = 0
	}
	m.t.policies[p.ID] = p
	return nil
}

// SaveInstallment upserts the installment's source fields. The derived
// commission fields are kept from the stored row.
func (m *Memory) SaveInstallment(_ context.Context, inst commission.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.t.policies[inst.PolicyID]; !ok {
		return commission.ErrPolicyNotFound
	}
	if old, ok := m.t.installments[inst.ID]; ok {
		inst.RateRef = old.RateRef
		inst.CommissionAmount = old.CommissionAmount
	} else {
		inst.RateRef = nil
		inst.CommissionAmount = decimal.Zero
	}
	m.t.installments[inst.ID] = inst
	return nil
}

// DeleteInstallment removes the row and returns it as it was.
func (m *Memory) DeleteInstallment(_ context.Context, id commission.InstallmentID) (commission.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.t.installments[id]
	if !ok {
		return commission.Installment{}, commission.ErrInstallmentNotFound
	}
	delete(m.t.installments, id)
	return inst, nil
}

// SaveRate upserts a rate entry. An edited entry keeps its CreatedAt.
func (m *Memory) SaveRate(_ context.Context, r commission.RateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.t.rates[r.ID]; ok {
		r.CreatedAt = old.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.t.rates[r.ID] = r
	return nil
}

// DeleteRate removes a rate entry. Links to it become dangling until repaired.
func (m *Memory) DeleteRate(_ context.Context, id commission.RateEntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.t.rates[id]; !ok {
		return commission.ErrRateNotFound
	}
	delete(m.t.rates, id)
	return nil
}

// =============================================================================
// commission.Store
// =============================================================================

func (m *Memory) RatesForPair(ctx context.Context, insurer commission.InsurerID, typ commission.InsuranceTypeID) ([]commission.RateEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.RatesForPair(ctx, insurer, typ)
}

func (m *Memory) GetRate(ctx context.Context, id commission.RateEntryID) (commission.RateEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetRate(ctx, id)
}

func (m *Memory) GetPolicy(ctx context.Context, id commission.PolicyID) (commission.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetPolicy(ctx, id)
}

func (m *Memory) ListPolicies(ctx context.Context, filter commission.PolicyFilter) ([]commission.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListPolicies(ctx, filter)
}

func (m *Memory) GetInstallment(ctx context.Context, id commission.InstallmentID) (commission.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetInstallment(ctx, id)
}

func (m *Memory) ListInstallments(ctx context.Context, policyID commission.PolicyID) ([]commission.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListInstallments(ctx, policyID)
}

func (m *Memory) SetCommission(ctx context.Context, id commission.InstallmentID, ref *commission.RateEntryID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SetCommission(ctx, id, ref, amount)
}

func (m *Memory) SetPremiumTotal(ctx context.Context, id commission.PolicyID, total decimal.Decimal, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SetPremiumTotal(ctx, id, total, expectedVersion)
}

// =============================================================================
// commission.RunStore
// =============================================================================

func (m *Memory) SaveRepairRun(_ context.Context, run commission.RepairRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.runs[run.ID] = run
	return nil
}

func (m *Memory) ListRepairRuns(_ context.Context, status commission.RunStatus) ([]commission.RepairRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []commission.RepairRun
	for _, r := range m.t.runs {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.t.clone()
	if err := fn(&m.t); err != nil {
		m.t = snapshot
		return err
	}
	return nil
}

func (t *tables) clone() tables {
	c := newTables()
	for k, v := range t.insurers {
		c.insurers[k] = v
	}
	for k, v := range t.types {
		c.types[k] = v
	}
	for k, v := range t.clients {
		c.clients[k] = v
	}
	for k, v := range t.policies {
		c.policies[k] = v
	}
	for k, v := range t.installments {
		c.installments[k] = v
	}
	for k, v := range t.rates {
		c.rates[k] = v
	}
	for k, v := range t.runs {
		c.runs[k] = v
	}
	return c
}

// =============================================================================
// UNLOCKED TABLE ACCESS - shared by Memory and the transactional view
// =============================================================================

func (t *tables) RatesForPair(_ context.Context, insurer commission.InsurerID, typ commission.InsuranceTypeID) ([]commission.RateEntry, error) {
	var out []commission.RateEntry
	for _, r := range t.rates {
		if r.InsurerID == insurer && r.InsuranceTypeID == typ {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tables) GetRate(_ context.Context, id commission.RateEntryID) (commission.RateEntry, error) {
	r, ok := t.rates[id]
	if !ok {
		return commission.RateEntry{}, commission.ErrRateNotFound
	}
	return r, nil
}

func (t *tables) GetPolicy(_ context.Context, id commission.PolicyID) (commission.Policy, error) {
	p, ok := t.policies[id]
	if !ok {
		return commission.Policy{}, commission.ErrPolicyNotFound
	}
	return p, nil
}

func (t *tables) ListPolicies(_ context.Context, filter commission.PolicyFilter) ([]commission.Policy, error) {
	var out []commission.Policy
	for _, p := range t.policies {
		if filter.Pair != nil && p.Pair() != *filter.Pair {
			continue
		}
		if filter.AfterID != "" && p.ID <= filter.AfterID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *tables) GetInstallment(_ context.Context, id commission.InstallmentID) (commission.Installment, error) {
	inst, ok := t.installments[id]
	if !ok {
		return commission.Installment{}, commission.ErrInstallmentNotFound
	}
	return inst, nil
}

func (t *tables) ListInstallments(_ context.Context, policyID commission.PolicyID) ([]commission.Installment, error) {
	var out []commission.Installment
	for _, inst := range t.installments {
		if inst.PolicyID == policyID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tables) SetCommission(_ context.Context, id commission.InstallmentID, ref *commission.RateEntryID, amount decimal.Decimal) error {
	inst, ok := t.installments[id]
	if !ok {
		return commission.ErrInstallmentNotFound
	}
	if ref != nil {
		r := *ref
		ref = &r
	}
	inst.RateRef = ref
	inst.CommissionAmount = amount
	t.installments[id] = inst
	return nil
}

func (t *tables) SetPremiumTotal(_ context.Context, id commission.PolicyID, total decimal.Decimal, expectedVersion int64) error {
	p, ok := t.policies[id]
	if !ok {
		return commission.ErrPolicyNotFound
	}
	if p.Version != expectedVersion {
		return commission.ErrConcurrentModification
	}
	p.PremiumTotal = total
	p.Version++
	t.policies[id] = p
	return nil
}
