/*
store.go - Persistence interfaces and the atomic unit of work

PURPOSE:
  Defines the boundary between the services and the database. All
  cross-entity mutations (entry + balance + schedule + history) run inside
  one atomic unit obtained from Store.WithTx; partial application of a
  multi-step effect is never observable.

ATOMIC UNIT CONTRACT:
  WithTx begins a database transaction, exposes every entity store bound to
  that transaction, and commits iff the function returns nil. Reads inside
  the unit see the unit's own writes, so a balance read that gates a write
  (withdrawal sufficiency, overpayment detection) races with nothing.

APPEND-ONLY TABLES:
  Status-history stores and the upload audit store only ever append.
  Ledger entries are append-mostly: the only updates are the status machine
  and the processor-written BalanceAfter.
*/
package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork exposes every entity store bound to one transaction scope.
type UnitOfWork interface {
	Entries() EntryStore
	Loans() LoanStore
	Schedules() ScheduleStore
	Repayments() RepaymentStore
	Approvals() ApprovalStore
	Savings() SavingsStore
	Shares() SharesStore
	Members() MemberStore
	LoanTypes() LoanTypeStore
	Uploads() UploadStore
}

// Store is the root persistence handle. Outside WithTx, store calls are
// auto-committed single statements.
type Store interface {
	UnitOfWork

	// WithTx runs fn inside one atomic unit. Commit iff fn returns nil.
	WithTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// =============================================================================
// ENTITY STORES
// =============================================================================

// EntryStore persists ledger entries and their status history.
type EntryStore interface {
	Create(ctx context.Context, e *LedgerEntry) error
	Get(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)

	// Update persists status, balance-after, and updated-at. Nothing else
	// on a stored entry ever changes.
	Update(ctx context.Context, e *LedgerEntry) error

	// HasReversal reports whether an entry already has a reversal child.
	HasReversal(ctx context.Context, parentID uuid.UUID) (bool, error)

	ListByMember(ctx context.Context, memberID uuid.UUID, limit int) ([]*LedgerEntry, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*LedgerEntry, error)

	AppendStatusChange(ctx context.Context, c EntryStatusChange) error
	StatusHistory(ctx context.Context, entryID uuid.UUID) ([]EntryStatusChange, error)
}

// LoanStore persists loans and their status history.
type LoanStore interface {
	Create(ctx context.Context, l *Loan) error
	Get(ctx context.Context, id uuid.UUID) (*Loan, error)
	Update(ctx context.Context, l *Loan) error

	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Loan, error)
	// ListActiveByMember returns loans in DISBURSED, ACTIVE, or DEFAULTED.
	ListActiveByMember(ctx context.Context, memberID uuid.UUID) ([]*Loan, error)

	AppendStatusChange(ctx context.Context, c LoanStatusChange) error
	StatusHistory(ctx context.Context, loanID uuid.UUID) ([]LoanStatusChange, error)
}

// ScheduleStore persists loan schedules.
type ScheduleStore interface {
	CreateBatch(ctx context.Context, rows []*LoanSchedule) error
	// ListByLoan returns schedules in due-date order.
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*LoanSchedule, error)
	Update(ctx context.Context, s *LoanSchedule) error
}

// RepaymentStore persists immutable repayment records.
type RepaymentStore interface {
	Create(ctx context.Context, r *LoanRepayment) error
	// ExistsForPeriod is the loan-scoped duplicate-period check.
	ExistsForPeriod(ctx context.Context, loanID uuid.UUID, month, year int) (bool, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*LoanRepayment, error)
	CountByLoan(ctx context.Context, loanID uuid.UUID) (int, error)
}

// ApprovalStore persists approval ladder steps.
type ApprovalStore interface {
	Create(ctx context.Context, s *ApprovalStep) error
	// Pending returns the single PENDING step for a loan, or nil.
	Pending(ctx context.Context, loanID uuid.UUID) (*ApprovalStep, error)
	Update(ctx context.Context, s *ApprovalStep) error
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*ApprovalStep, error)
}

// SavingsStore persists savings accounts.
type SavingsStore interface {
	Create(ctx context.Context, a *SavingsAccount) error
	Get(ctx context.Context, id uuid.UUID) (*SavingsAccount, error)
	GetByMember(ctx context.Context, memberID uuid.UUID) (*SavingsAccount, error)
	Update(ctx context.Context, a *SavingsAccount) error
}

// SharesStore persists share holdings.
type SharesStore interface {
	Create(ctx context.Context, h *ShareHolding) error
	Get(ctx context.Context, id uuid.UUID) (*ShareHolding, error)
	GetByMember(ctx context.Context, memberID uuid.UUID) (*ShareHolding, error)
	Update(ctx context.Context, h *ShareHolding) error
}

// MemberStore persists members.
type MemberStore interface {
	Create(ctx context.Context, m *Member) error
	Get(ctx context.Context, id uuid.UUID) (*Member, error)
	GetByERPID(ctx context.Context, erpID string) (*Member, error)
}

// LoanTypeStore persists loan-type reference data.
type LoanTypeStore interface {
	Create(ctx context.Context, lt *LoanType) error
	Get(ctx context.Context, id uuid.UUID) (*LoanType, error)
	List(ctx context.Context) ([]*LoanType, error)
}

// UploadStore persists bulk-upload audit records.
type UploadStore interface {
	Create(ctx context.Context, u *BulkRepaymentUpload) error
	Get(ctx context.Context, id uuid.UUID) (*BulkRepaymentUpload, error)
	Update(ctx context.Context, u *BulkRepaymentUpload) error
	List(ctx context.Context, limit int) ([]*BulkRepaymentUpload, error)
}

// =============================================================================
// CLOCK
// =============================================================================

// Now is the single time source. Tests may override it for stable schedules.
var Now = func() time.Time { return time.Now().UTC() }
