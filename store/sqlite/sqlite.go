/*
Package sqlite provides the SQLite-backed implementation of models.Store.

PURPOSE:
  Implements every entity store plus the atomic unit of work. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

ATOMIC UNIT:
  WithTx opens one database transaction and hands the caller a unit whose
  entity stores all run on that transaction. Commit happens iff the
  function returns nil. Outside WithTx the same stores run directly on
  the connection as auto-committed statements.

LAST LINE OF DEFENSE:
  Business rules are enforced in the services, but the invariants that
  must never break are also database constraints:
  - idx_repayments_period: one repayment per (loan, month, year)
  - idx_entries_one_reversal: one reversal child per entry
  - idx_approvals_one_pending: one PENDING approval step per loan
  Constraint violations are mapped back to the models error taxonomy so
  a race that slips past a service check still surfaces as DUPLICATE or
  ALREADY_REVERSED, not as a raw SQL error.

APPEND-ONLY TABLES:
  entry_status_history and loan_status_history are insert-only. Entries
  are append-mostly: the only UPDATE touches status, balance_after, and
  updated_at.

CONCURRENCY:
  The connection pool is capped at a single connection, which serializes
  writers the way SQLite wants and makes :memory: databases safe to
  share across goroutines in tests. WAL mode keeps readers unblocked on
  file-backed databases.

USAGE:
  store, err := sqlite.New("./data/coop.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - models/store.go: the interfaces implemented here
  - entries.go, loans.go, accounts.go, uploads.go: per-entity stores
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

// querier is satisfied by both *sql.DB and *sql.Tx; every entity store
// runs on one or the other.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// unit binds every entity store to one querier.
type unit struct {
	q querier
}

func (u unit) Entries() models.EntryStore        { return &entryStore{u.q} }
func (u unit) Loans() models.LoanStore           { return &loanStore{u.q} }
func (u unit) Schedules() models.ScheduleStore   { return &scheduleStore{u.q} }
func (u unit) Repayments() models.RepaymentStore { return &repaymentStore{u.q} }
func (u unit) Approvals() models.ApprovalStore   { return &approvalStore{u.q} }
func (u unit) Savings() models.SavingsStore      { return &savingsStore{u.q} }
func (u unit) Shares() models.SharesStore        { return &sharesStore{u.q} }
func (u unit) Members() models.MemberStore       { return &memberStore{u.q} }
func (u unit) LoanTypes() models.LoanTypeStore   { return &loanTypeStore{u.q} }
func (u unit) Uploads() models.UploadStore       { return &uploadStore{u.q} }

// Store implements models.Store on SQLite.
type Store struct {
	db *sql.DB
	unit
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection serializes writers and keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, unit: unit{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one database transaction. Commit iff fn returns
// nil; any error rolls the whole unit back.
func (s *Store) WithTx(ctx context.Context, fn func(uow models.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(unit{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// migrate creates the schema. Idempotent; runs on every New.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-mostly; see package doc)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		domain TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		status TEXT NOT NULL,
		member_id TEXT NOT NULL,
		loan_id TEXT,
		savings_id TEXT,
		shares_id TEXT,
		parent_entry_id TEXT,
		request_id TEXT,
		metadata_json TEXT,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_member
		ON entries(member_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_loan
		ON entries(loan_id) WHERE loan_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON entries(status);

	-- CRITICAL: at most one reversal child per entry
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_reversal
		ON entries(parent_entry_id) WHERE parent_entry_id IS NOT NULL;

	-- Entry status history (insert-only)
	CREATE TABLE IF NOT EXISTS entry_status_history (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entry_history_entry
		ON entry_status_history(entry_id, changed_at);

	-- Loans
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		loan_type_id TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		tenure INTEGER NOT NULL,
		status TEXT NOT NULL,
		next_approval_level INTEGER NOT NULL DEFAULT 0,
		purpose TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_member
		ON loans(member_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_loans_status
		ON loans(status);

	-- Loan status history (insert-only)
	CREATE TABLE IF NOT EXISTS loan_status_history (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loan_history_loan
		ON loan_status_history(loan_id, changed_at);

	-- Loan schedules
	CREATE TABLE IF NOT EXISTS loan_schedules (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		principal_portion TEXT NOT NULL,
		interest_portion TEXT NOT NULL,
		expected_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		UNIQUE(loan_id, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_loan
		ON loan_schedules(loan_id, due_date);

	-- Repayment records (insert-only)
	CREATE TABLE IF NOT EXISTS loan_repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		schedule_id TEXT,
		entry_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		upload_id TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: duplicate-period detection, loan-scoped
	CREATE UNIQUE INDEX IF NOT EXISTS idx_repayments_period
		ON loan_repayments(loan_id, month, year);
	CREATE INDEX IF NOT EXISTS idx_repayments_upload
		ON loan_repayments(upload_id) WHERE upload_id IS NOT NULL;

	-- Approval ladder steps
	CREATE TABLE IF NOT EXISTS approval_steps (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		status TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	-- CRITICAL: one PENDING step per loan
	CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_one_pending
		ON approval_steps(loan_id) WHERE status = 'PENDING';
	CREATE INDEX IF NOT EXISTS idx_approvals_loan
		ON approval_steps(loan_id, level);

	-- Members
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		erp_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Savings accounts (one per member)
	CREATE TABLE IF NOT EXISTS savings_accounts (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL UNIQUE,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Share holdings (one per member)
	CREATE TABLE IF NOT EXISTS share_holdings (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL UNIQUE,
		units TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total_value TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Loan types (reference data)
	CREATE TABLE IF NOT EXISTS loan_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		interest_rate TEXT NOT NULL,
		min_duration INTEGER NOT NULL,
		max_duration INTEGER NOT NULL,
		max_amount TEXT NOT NULL,
		savings_multiplier TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Bulk upload audit records
	CREATE TABLE IF NOT EXISTS bulk_uploads (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total_rows INTEGER NOT NULL DEFAULT 0,
		success_rows INTEGER NOT NULL DEFAULT 0,
		failed_rows_json TEXT,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_created
		ON bulk_uploads(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func uuidPtr(ns sql.NullString) *uuid.UUID {
	if !ns.Valid {
		return nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &id
}

func scanMoney(s string) money.Money {
	m, err := money.Parse(s)
	if err != nil {
		return money.Zero()
	}
	return m
}

// isUniqueConstraint reports a UNIQUE violation. SQLite names the columns
// in the message ("UNIQUE constraint failed: entries.parent_entry_id"), so
// hint is a "table.column" substring that pins down which constraint fired.
func isUniqueConstraint(err error, hint string) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		(hint == "" || strings.Contains(err.Error(), hint))
}
