/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements commission.TxStore and commission.RunStore on SQLite, plus the
  CRUD the collaborator layer (api, CLI seed) uses to write source fields.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  commission.Store:    Reads + derived-field writes
  commission.TxStore:  Atomic per-policy units of work
  commission.RunStore: Repair run history

DERIVED COLUMNS:
  installments.commission_rate_ref, installments.commission_amount,
  policies.premium_total and policies.version are written only through
  SetCommission / SetPremiumTotal. The CRUD upserts never touch them.

OPTIMISTIC LOCKING:
  SetPremiumTotal is a compare-and-set on policies.version:
    UPDATE policies SET premium_total = ?, version = version + 1
    WHERE id = ? AND version = ?
  Zero affected rows on an existing policy => ErrConcurrentModification.

KEY TABLES:
  insurers, insurance_types, clients: Reference data
  policies:      Contracts with the derived premium_total
  installments:  Payment schedule rows with the derived commission
  rate_entries:  Historized (insurer, type) -> percent table
  repair_runs:   Audit of repair passes (report stored as JSON)

MONEY:
  Decimals are stored as TEXT to keep exact values.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/premium.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := commission.NewEngine(store, commission.Options{})

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/premium-engine/commission"
)

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dateLayout is used for installment due dates.
const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS insurers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS insurance_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		insurer_id TEXT NOT NULL,
		insurance_type_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		premium_total TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Fan-out and repair list policies by pair
	CREATE INDEX IF NOT EXISTS idx_policies_pair
		ON policies(insurer_id, insurance_type_id, id);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		commission_rate_ref TEXT,
		commission_amount TEXT NOT NULL DEFAULT '0',
		paid_at TEXT,
		approved_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Aggregation reads a whole schedule (hot path)
	CREATE INDEX IF NOT EXISTS idx_installments_policy_due
		ON installments(policy_id, due_date, id);
	CREATE INDEX IF NOT EXISTS idx_installments_rate_ref
		ON installments(commission_rate_ref) WHERE commission_rate_ref IS NOT NULL;

	-- No foreign key to rate_entries: a deleted entry leaves a dangling
	-- link for the repair tool to report
	CREATE TABLE IF NOT EXISTS rate_entries (
		id TEXT PRIMARY KEY,
		insurer_id TEXT NOT NULL,
		insurance_type_id TEXT NOT NULL,
		percent TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_entries_pair
		ON rate_entries(insurer_id, insurance_type_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS repair_runs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		report_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_repair_runs_status
		ON repair_runs(status, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Store) SaveInsurer(ctx context.Context, in commission.Insurer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insurers (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		in.ID, in.Name)
	return err
}

func (s *Store) ListInsurers(ctx context.Context) ([]commission.Insurer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM insurers ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Insurer
	for rows.Next() {
		var in commission.Insurer
		if err := rows.Scan(&in.ID, &in.Name); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) SaveInsuranceType(ctx context.Context, it commission.InsuranceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insurance_types (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		it.ID, it.Name)
	return err
}

func (s *Store) ListInsuranceTypes(ctx context.Context) ([]commission.InsuranceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM insurance_types ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.InsuranceType
	for rows.Next() {
		var it commission.InsuranceType
		if err := rows.Scan(&it.ID, &it.Name); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) SaveClient(ctx context.Context, c commission.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name)
	return err
}

func (s *Store) ListClients(ctx context.Context) ([]commission.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM clients ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Client
	for rows.Next() {
		var c commission.Client
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// SOURCE WRITES (collaborator CRUD)
// =============================================================================

// SavePolicy upserts the policy's source fields. premium_total and version
// are left as stored (zero for a new policy).
func (s *Store) SavePolicy(ctx context.Context, p commission.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO policies (id, client_id, insurer_id, insurance_type_id, number,
			active, closed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			insurer_id = excluded.insurer_id,
			insurance_type_id = excluded.insurance_type_id,
			number = excluded.number,
			active = excluded.active,
			closed = excluded.closed,
			updated_at = excluded.updated_at
	`
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.ClientID, p.InsurerID, p.InsuranceTypeID, p.Number,
		p.Active, p.Closed, now, now)
	return err
}

// SaveInstallment upserts the installment's source fields. The derived
// commission columns are left as stored (uncalculated for a new row).
func (s *Store) SaveInstallment(ctx context.Context, inst commission.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := (queries{s.db}).GetPolicy(ctx, inst.PolicyID); err != nil {
		return err
	}

	query := `
		INSERT INTO installments (id, policy_id, due_date, amount, paid_at, approved_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_id = excluded.policy_id,
			due_date = excluded.due_date,
			amount = excluded.amount,
			paid_at = excluded.paid_at,
			approved_at = excluded.approved_at,
			updated_at = excluded.updated_at
	`
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query,
		inst.ID, inst.PolicyID, inst.DueDate.Format(dateLayout), inst.Amount.String(),
		nullTime(inst.PaidAt), nullTime(inst.ApprovedAt), now, now)
	return err
}

// DeleteInstallment removes the row and returns it as it was.
func (s *Store) DeleteInstallment(ctx context.Context, id commission.InstallmentID) (commission.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := queries{s.db}
	inst, err := q.GetInstallment(ctx, id)
	if err != nil {
		return inst, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM installments WHERE id = ?", id); err != nil {
		return inst, fmt.Errorf("failed to delete installment: %w", err)
	}
	return inst, nil
}

// SaveRate upserts a rate entry. CreatedAt defaults to now.
func (s *Store) SaveRate(ctx context.Context, r commission.RateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO rate_entries (id, insurer_id, insurance_type_id, percent, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			insurer_id = excluded.insurer_id,
			insurance_type_id = excluded.insurance_type_id,
			percent = excluded.percent
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.InsurerID, r.InsuranceTypeID, r.Percent.String(), formatTime(r.CreatedAt))
	return err
}

// DeleteRate removes a rate entry. Links to it become dangling until repaired.
func (s *Store) DeleteRate(ctx context.Context, id commission.RateEntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM rate_entries WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.ErrRateNotFound
	}
	return nil
}

// ListRates returns every rate entry, newest first.
func (s *Store) ListRates(ctx context.Context) ([]commission.RateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).queryRates(ctx, `
		SELECT id, insurer_id, insurance_type_id, percent, created_at
		FROM rate_entries ORDER BY created_at DESC, id DESC`)
}

// =============================================================================
// commission.Store
// =============================================================================

func (s *Store) RatesForPair(ctx context.Context, insurer commission.InsurerID, typ commission.InsuranceTypeID) ([]commission.RateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).RatesForPair(ctx, insurer, typ)
}

func (s *Store) GetRate(ctx context.Context, id commission.RateEntryID) (commission.RateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).GetRate(ctx, id)
}

func (s *Store) GetPolicy(ctx context.Context, id commission.PolicyID) (commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).GetPolicy(ctx, id)
}

func (s *Store) ListPolicies(ctx context.Context, filter commission.PolicyFilter) ([]commission.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).ListPolicies(ctx, filter)
}

func (s *Store) GetInstallment(ctx context.Context, id commission.InstallmentID) (commission.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).GetInstallment(ctx, id)
}

func (s *Store) ListInstallments(ctx context.Context, policyID commission.PolicyID) ([]commission.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (queries{s.db}).ListInstallments(ctx, policyID)
}

func (s *Store) SetCommission(ctx context.Context, id commission.InstallmentID, ref *commission.RateEntryID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (queries{s.db}).SetCommission(ctx, id, ref, amount)
}

func (s *Store) SetPremiumTotal(ctx context.Context, id commission.PolicyID, total decimal.Decimal, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (queries{s.db}).SetPremiumTotal(ctx, id, total, expectedVersion)
}

// =============================================================================
// TRANSACTIONAL STORE (commission.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by Store and the transactional view
// =============================================================================

// queries runs the commission.Store operations against a *sql.DB or *sql.Tx.
// It takes no locks.
type queries struct {
	db dbtx
}

const rateColumns = "id, insurer_id, insurance_type_id, percent, created_at"

const policyColumns = `id, client_id, insurer_id, insurance_type_id, number,
	premium_total, version, active, closed`

const installmentColumns = `id, policy_id, due_date, amount, commission_rate_ref,
	commission_amount, paid_at, approved_at`

func (q queries) RatesForPair(ctx context.Context, insurer commission.InsurerID, typ commission.InsuranceTypeID) ([]commission.RateEntry, error) {
	return q.queryRates(ctx,
		"SELECT "+rateColumns+" FROM rate_entries WHERE insurer_id = ? AND insurance_type_id = ?",
		insurer, typ)
}

func (q queries) GetRate(ctx context.Context, id commission.RateEntryID) (commission.RateEntry, error) {
	rates, err := q.queryRates(ctx, "SELECT "+rateColumns+" FROM rate_entries WHERE id = ?", id)
	if err != nil {
		return commission.RateEntry{}, err
	}
	if len(rates) == 0 {
		return commission.RateEntry{}, commission.ErrRateNotFound
	}
	return rates[0], nil
}

func (q queries) queryRates(ctx context.Context, query string, args ...any) ([]commission.RateEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate entries: %w", err)
	}
	defer rows.Close()

	var out []commission.RateEntry
	for rows.Next() {
		var (
			r         commission.RateEntry
			percent   string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.InsurerID, &r.InsuranceTypeID, &percent, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rate entry: %w", err)
		}
		if r.Percent, err = parseDecimal("percent", percent); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) GetPolicy(ctx context.Context, id commission.PolicyID) (commission.Policy, error) {
	policies, err := q.queryPolicies(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	if err != nil {
		return commission.Policy{}, err
	}
	if len(policies) == 0 {
		return commission.Policy{}, commission.ErrPolicyNotFound
	}
	return policies[0], nil
}

func (q queries) ListPolicies(ctx context.Context, filter commission.PolicyFilter) ([]commission.Policy, error) {
	var (
		where []string
		args  []any
	)
	if filter.Pair != nil {
		where = append(where, "insurer_id = ? AND insurance_type_id = ?")
		args = append(args, filter.Pair.Insurer, filter.Pair.Type)
	}
	if filter.AfterID != "" {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}

	query := "SELECT " + policyColumns + " FROM policies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return q.queryPolicies(ctx, query, args...)
}

func (q queries) queryPolicies(ctx context.Context, query string, args ...any) ([]commission.Policy, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []commission.Policy
	for rows.Next() {
		var (
			p     commission.Policy
			total string
		)
		if err := rows.Scan(&p.ID, &p.ClientID, &p.InsurerID, &p.InsuranceTypeID, &p.Number,
			&total, &p.Version, &p.Active, &p.Closed); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		if p.PremiumTotal, err = parseDecimal("premium_total", total); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) GetInstallment(ctx context.Context, id commission.InstallmentID) (commission.Installment, error) {
	insts, err := q.queryInstallments(ctx, "SELECT "+installmentColumns+" FROM installments WHERE id = ?", id)
	if err != nil {
		return commission.Installment{}, err
	}
	if len(insts) == 0 {
		return commission.Installment{}, commission.ErrInstallmentNotFound
	}
	return insts[0], nil
}

func (q queries) ListInstallments(ctx context.Context, policyID commission.PolicyID) ([]commission.Installment, error) {
	return q.queryInstallments(ctx,
		"SELECT "+installmentColumns+" FROM installments WHERE policy_id = ? ORDER BY due_date, id",
		policyID)
}

func (q queries) queryInstallments(ctx context.Context, query string, args ...any) ([]commission.Installment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []commission.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstallment(rows *sql.Rows) (commission.Installment, error) {
	var (
		inst       commission.Installment
		dueDate    string
		amount     string
		rateRef    sql.NullString
		commAmount string
		paidAt     sql.NullString
		approvedAt sql.NullString
	)
	err := rows.Scan(&inst.ID, &inst.PolicyID, &dueDate, &amount, &rateRef,
		&commAmount, &paidAt, &approvedAt)
	if err != nil {
		return inst, fmt.Errorf("failed to scan installment: %w", err)
	}

	if inst.DueDate, err = time.Parse(dateLayout, dueDate); err != nil {
		return inst, fmt.Errorf("bad due_date %q: %w", dueDate, err)
	}
	if inst.Amount, err = parseDecimal("amount", amount); err != nil {
		return inst, err
	}
	if inst.CommissionAmount, err = parseDecimal("commission_amount", commAmount); err != nil {
		return inst, err
	}
	if rateRef.Valid {
		inst.RateRef = refPtr(rateRef.String)
	}
	if inst.PaidAt, err = parseNullTime(paidAt); err != nil {
		return inst, err
	}
	if inst.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return inst, err
	}
	return inst, nil
}

func (q queries) SetCommission(ctx context.Context, id commission.InstallmentID, ref *commission.RateEntryID, amount decimal.Decimal) error {
	var refCol sql.NullString
	if ref != nil {
		refCol = sql.NullString{String: string(*ref), Valid: true}
	}
	res, err := q.db.ExecContext(ctx,
		"UPDATE installments SET commission_rate_ref = ?, commission_amount = ? WHERE id = ?",
		refCol, amount.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update commission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commission.ErrInstallmentNotFound
	}
	return nil
}

func (q queries) SetPremiumTotal(ctx context.Context, id commission.PolicyID, total decimal.Decimal, expectedVersion int64) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE policies SET premium_total = ?, version = version + 1 WHERE id = ? AND version = ?",
		total.String(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update premium total: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := q.GetPolicy(ctx, id); err != nil {
		return err
	}
	return commission.ErrConcurrentModification
}

// =============================================================================
// REPAIR RUNS (commission.RunStore interface)
// =============================================================================

// SaveRepairRun inserts or updates a repair run.
func (s *Store) SaveRepairRun(ctx context.Context, r commission.RepairRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := json.Marshal(r.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `
		INSERT INTO repair_runs (id, scope, trigger_kind, status, report_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			report_json = excluded.report_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Scope, r.Trigger, r.Status, string(report), nullString(r.Error),
		formatTime(r.StartedAt), nullTime(r.CompletedAt))
	return err
}

// ListRepairRuns returns runs newest first. An empty status lists all.
func (s *Store) ListRepairRuns(ctx context.Context, status commission.RunStatus) ([]commission.RepairRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, scope, trigger_kind, status, report_json, error, started_at, completed_at
		FROM repair_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []commission.RepairRun
	for rows.Next() {
		var (
			r           commission.RepairRun
			report      sql.NullString
			runErr      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Scope, &r.Trigger, &r.Status, &report, &runErr,
			&startedAt, &completedAt); err != nil {
			return nil, err
		}
		if report.Valid && report.String != "" {
			if err := json.Unmarshal([]byte(report.String), &r.Report); err != nil {
				return nil, fmt.Errorf("failed to decode report of run %s: %w", r.ID, err)
			}
		}
		r.Error = runErr.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"installments", "policies", "rate_entries", "clients",
		"insurance_types", "insurers", "repair_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return t, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return d, fmt.Errorf("bad %s %q: %w", column, s, err)
	}
	return d, nil
}

func refPtr(s string) *commission.RateEntryID {
	id := commission.RateEntryID(s)
	return &id
}
