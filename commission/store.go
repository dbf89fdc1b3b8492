/*
store.go - Persistence interface between the engine and the datastore

PURPOSE:
  Defines the narrow set of reads and derived-field writes the engine needs.
  Creating and editing source rows (policies, installments, rates) is the
  CRUD layer's job and lives on the concrete stores, not here.

KEY INTERFACES:
  RateReader: Rate table reads (used by the Registry)
  Store:      Policy/installment reads + derived-field writes
  TxStore:    Store with atomic multi-row writes
  RunStore:   Optional history of repair runs

OPTIMISTIC LOCKING:
  SetPremiumTotal takes the Version the caller read. If the row moved on,
  the store returns ErrConcurrentModification and writes nothing.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - commission/store/memory.go: In-memory for tests
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Reads and derived-field writes
// =============================================================================

// RateReader reads the rate table.
type RateReader interface {
	// RatesForPair returns every entry for the pair, in any order.
	RatesForPair(ctx context.Context, insurer InsurerID, typ InsuranceTypeID) ([]RateEntry, error)

	// GetRate returns ErrRateNotFound if the entry does not exist.
	GetRate(ctx context.Context, id RateEntryID) (RateEntry, error)
}

// Store handles the engine's persistence.
type Store interface {
	RateReader

	// GetPolicy returns ErrPolicyNotFound if the policy does not exist.
	GetPolicy(ctx context.Context, id PolicyID) (Policy, error)

	// ListPolicies returns policies ordered by ID.
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)

	// GetInstallment returns ErrInstallmentNotFound if the row does not exist.
	GetInstallment(ctx context.Context, id InstallmentID) (Installment, error)

	// ListInstallments returns the policy's installments ordered by due date, then ID.
	ListInstallments(ctx context.Context, policyID PolicyID) ([]Installment, error)

	// SetCommission writes the derived commission fields of one installment.
	SetCommission(ctx context.Context, id InstallmentID, ref *RateEntryID, amount decimal.Decimal) error

	// SetPremiumTotal writes the derived total if the policy is still at
	// expectedVersion, bumping the version. Otherwise ErrConcurrentModification.
	SetPremiumTotal(ctx context.Context, id PolicyID, total decimal.Decimal, expectedVersion int64) error
}

// PolicyFilter narrows ListPolicies. Zero value lists everything.
type PolicyFilter struct {
	Pair    *Pair
	AfterID PolicyID // exclusive cursor
	Limit   int      // 0 = no limit
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// REPAIR RUN HISTORY
// =============================================================================

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// RunTrigger records why a repair pass ran.
type RunTrigger string

const (
	TriggerOperator   RunTrigger = "operator"
	TriggerRateChange RunTrigger = "rate_change"
	TriggerSchedule   RunTrigger = "schedule"
)

// RepairRun is one recorded execution of the repair tool.
type RepairRun struct {
	ID          string
	Scope       string
	Trigger     RunTrigger
	Status      RunStatus
	Report      Report
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists repair runs. Optional store capability.
type RunStore interface {
	SaveRepairRun(ctx context.Context, run RepairRun) error
	ListRepairRuns(ctx context.Context, status RunStatus) ([]RepairRun, error)
}
