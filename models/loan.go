/*
loan.go - Loan, schedule, repayment, and loan-type entities

PURPOSE:
  A Loan owns an ordered sequence of LoanSchedule rows (one per due period)
  and an unordered set of immutable LoanRepayment records. LoanType is
  read-mostly reference configuration.

INVARIANTS:
  - RemainingBalance = max(0, TotalAmount - PaidAmount), always.
  - Sum of schedule ExpectedAmount is within rounding tolerance of
    TotalAmount.
  - At most one repayment per (loan, month, year). Enforced at the service
    level and backed by a unique index in the store.
*/
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coopfin/ledger-engine/money"
)

// =============================================================================
// LOAN TYPE - Reference configuration
// =============================================================================

// SoftLoanMaxDuration classifies a loan type as a soft loan: any type whose
// maximum duration is at most this many months uses simple interest.
const SoftLoanMaxDuration = 6

// LoanType is the business configuration for a category of loan.
type LoanType struct {
	ID                uuid.UUID
	Name              string
	InterestRate      decimal.Decimal // e.g. 0.075
	MinDuration       int             // months
	MaxDuration       int             // months
	MaxAmount         money.Money
	SavingsMultiplier decimal.Decimal // eligibility cap = savings * multiplier
	Active            bool
}

// IsSoft reports whether this type is a soft loan (simple interest,
// short tenure).
func (lt *LoanType) IsSoft() bool { return lt.MaxDuration <= SoftLoanMaxDuration }

// IsOneYearPlus reports whether this type runs a year or longer.
func (lt *LoanType) IsOneYearPlus() bool { return lt.MaxDuration >= 12 }

// IsRegular reports whether this type is neither soft nor 1-year-plus.
func (lt *LoanType) IsRegular() bool { return !lt.IsSoft() && !lt.IsOneYearPlus() }

// =============================================================================
// LOAN
// =============================================================================

type LoanStatus string

const (
	LoanPending   LoanStatus = "PENDING"
	LoanInReview  LoanStatus = "IN_REVIEW"
	LoanReviewed  LoanStatus = "REVIEWED"
	LoanApproved  LoanStatus = "APPROVED"
	LoanDisbursed LoanStatus = "DISBURSED"
	LoanActive    LoanStatus = "ACTIVE"
	LoanDefaulted LoanStatus = "DEFAULTED"
	LoanCompleted LoanStatus = "COMPLETED"
	LoanRejected  LoanStatus = "REJECTED"
)

// ApprovalLevel is one rung of the approval ladder.
type ApprovalLevel int

const (
	LevelReview          ApprovalLevel = 1
	LevelFinancialReview ApprovalLevel = 2
	LevelFinalApproval   ApprovalLevel = 3
	LevelDisbursement    ApprovalLevel = 4
)

// Loan is a member's loan through its whole lifecycle.
type Loan struct {
	ID         uuid.UUID
	MemberID   uuid.UUID
	LoanTypeID uuid.UUID

	PrincipalAmount money.Money
	InterestAmount  money.Money
	TotalAmount     money.Money // principal + interest for simple-interest types
	PaidAmount      money.Money
	// RemainingBalance = max(0, TotalAmount - PaidAmount)
	RemainingBalance money.Money

	Tenure int // months
	Status LoanStatus

	// NextApprovalLevel is the ladder rung whose approval step is PENDING.
	// Zero once the ladder is exhausted.
	NextApprovalLevel ApprovalLevel

	Purpose   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recalculate restores the balance invariant after PaidAmount changes.
func (l *Loan) Recalculate() {
	l.RemainingBalance = l.TotalAmount.Sub(l.PaidAmount).ClampZero()
}

// IsSettled reports whether the remaining balance is within rounding
// tolerance of zero.
func (l *Loan) IsSettled() bool {
	return l.RemainingBalance.LessThanOrEqual(money.Tolerance)
}

// LoanStatusChange is one row of a loan's append-only status history.
type LoanStatusChange struct {
	ID        uuid.UUID
	LoanID    uuid.UUID
	From      LoanStatus
	To        LoanStatus
	Actor     string
	Reason    string
	ChangedAt time.Time
}

// ApprovalStep is one pending or resolved rung of the approval ladder.
// Exactly one step per loan is PENDING at a time.
type ApprovalStep struct {
	ID         uuid.UUID
	LoanID     uuid.UUID
	Level      ApprovalLevel
	Status     string // "PENDING", "APPROVED", "REJECTED"
	Actor      string
	Notes      string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

const (
	StepPending  = "PENDING"
	StepApproved = "APPROVED"
	StepRejected = "REJECTED"
)

// =============================================================================
// SCHEDULE
// =============================================================================

type ScheduleStatus string

const (
	SchedulePending ScheduleStatus = "PENDING"
	SchedulePartial ScheduleStatus = "PARTIAL"
	SchedulePaid    ScheduleStatus = "PAID"
	ScheduleOverdue ScheduleStatus = "OVERDUE"
)

// LoanSchedule is one due-period row of a loan's repayment plan.
type LoanSchedule struct {
	ID     uuid.UUID
	LoanID uuid.UUID

	Sequence int // 1-based period index
	DueDate  time.Time

	PrincipalPortion money.Money
	InterestPortion  money.Money
	ExpectedAmount   money.Money

	PaidAmount       money.Money
	RemainingBalance money.Money
	Status           ScheduleStatus
}

// Outstanding returns what is still owed on this schedule row.
func (s *LoanSchedule) Outstanding() money.Money {
	return s.ExpectedAmount.Sub(s.PaidAmount).ClampZero()
}

// =============================================================================
// REPAYMENT
// =============================================================================

// LoanRepayment records one posted repayment. Immutable once created.
// (LoanID, Month, Year) is unique per loan.
type LoanRepayment struct {
	ID         uuid.UUID
	LoanID     uuid.UUID
	ScheduleID *uuid.UUID // at most one schedule row linked
	EntryID    uuid.UUID  // the ledger entry this repayment posted

	Amount money.Money
	Month  int // 1-12
	Year   int

	Source    string // "manual", "bulk_upload"
	UploadID  *uuid.UUID
	CreatedAt time.Time
}
