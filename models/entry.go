/*
Package models defines the persistent entities of the cooperative ledger:
ledger entries, loans and their schedules, savings accounts, share holdings,
and the bulk-upload audit record, together with the status state machines
and the store interfaces the services depend on.

entry.go - The ledger entry, the single source of truth for balance changes

PURPOSE:
  Every movement of money in the system - a deposit, a loan disbursement, a
  repayment row from a bulk upload - is a LedgerEntry. Balances on savings
  accounts, share holdings, and loans are only ever mutated by a processor
  applying an entry, and the post-mutation balance is snapshotted back onto
  the entry as BalanceAfter.

CRITICAL INVARIANTS:
  1. COMPLETED entries are immutable except for the single transition to
     REVERSED, which spawns a new opposite-direction entry rather than
     editing history.
  2. Amount is a positive magnitude; the sign of the effect comes from
     Direction, which is derived from Kind (ADJUSTMENT and REVERSAL carry
     an explicit direction).
  3. At most one of LoanID / SavingsID / SharesID is set.
  4. BalanceAfter is written by the processor, never by the caller.

SEE ALSO:
  - status.go: The entry status state machine
  - ledger/service.go: The only code path that creates or mutates entries
*/
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/money"
)

// =============================================================================
// KIND, DIRECTION, DOMAIN
// =============================================================================

// EntryKind is the closed set of transaction kinds.
type EntryKind string

const (
	KindDeposit      EntryKind = "deposit"
	KindWithdrawal   EntryKind = "withdrawal"
	KindPurchase     EntryKind = "purchase"
	KindLiquidation  EntryKind = "liquidation"
	KindDividend     EntryKind = "dividend"
	KindDisbursement EntryKind = "disbursement"
	KindRepayment    EntryKind = "repayment"
	KindInterest     EntryKind = "interest"
	KindPenalty      EntryKind = "penalty"
	KindFee          EntryKind = "fee"
	KindAdjustment   EntryKind = "adjustment"
	KindReversal     EntryKind = "reversal"
)

// Direction is the sign of an entry's effect on the owning account.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// Domain is the business area an entry belongs to. It selects the processor
// when no kind-specific processor is registered.
type Domain string

const (
	DomainSavings Domain = "SAVINGS"
	DomainShares  Domain = "SHARES"
	DomainLoan    Domain = "LOAN"
	DomainSystem  Domain = "SYSTEM"
	DomainAdmin   Domain = "ADMIN"
)

// kindDirections is the fixed Kind -> Direction lookup. ADJUSTMENT and
// REVERSAL are absent: they require an explicit direction on the entry.
var kindDirections = map[EntryKind]Direction{
	KindDeposit:      DirectionCredit,
	KindWithdrawal:   DirectionDebit,
	KindPurchase:     DirectionCredit,
	KindLiquidation:  DirectionDebit,
	KindDividend:     DirectionCredit,
	KindDisbursement: DirectionDebit,
	KindRepayment:    DirectionCredit,
	KindInterest:     DirectionDebit,
	KindPenalty:      DirectionDebit,
	KindFee:          DirectionDebit,
}

// kindDomains is the fixed Kind -> Domain lookup.
var kindDomains = map[EntryKind]Domain{
	KindDeposit:      DomainSavings,
	KindWithdrawal:   DomainSavings,
	KindPurchase:     DomainShares,
	KindLiquidation:  DomainShares,
	KindDividend:     DomainShares,
	KindDisbursement: DomainLoan,
	KindRepayment:    DomainLoan,
	KindInterest:     DomainLoan,
	KindPenalty:      DomainLoan,
	KindFee:          DomainAdmin,
	KindAdjustment:   DomainAdmin,
	KindReversal:     DomainAdmin,
}

// DirectionFor returns the direction derived from a kind.
// ok is false for ADJUSTMENT and REVERSAL, which carry their own direction.
func DirectionFor(kind EntryKind) (Direction, bool) {
	d, ok := kindDirections[kind]
	return d, ok
}

// DomainFor returns the domain an entry kind belongs to.
func DomainFor(kind EntryKind) (Domain, bool) {
	d, ok := kindDomains[kind]
	return d, ok
}

// ValidKind reports whether kind is in the closed set.
func ValidKind(kind EntryKind) bool {
	_, ok := kindDomains[kind]
	return ok
}

// =============================================================================
// STATUS
// =============================================================================

type EntryStatus string

const (
	EntryPending    EntryStatus = "PENDING"
	EntryProcessing EntryStatus = "PROCESSING"
	EntryCompleted  EntryStatus = "COMPLETED"
	EntryFailed     EntryStatus = "FAILED"
	EntryCancelled  EntryStatus = "CANCELLED"
	EntryReversed   EntryStatus = "REVERSED"
)

// =============================================================================
// METADATA - Closed set of per-kind variants
// =============================================================================

// EntryMetadata is the tagged union of per-kind metadata. Each kind that
// needs structured context has its own variant; there is no open map.
type EntryMetadata interface {
	MetadataKind() EntryKind
}

// DisbursementMetadata records which application produced the payout.
type DisbursementMetadata struct {
	LoanID   uuid.UUID `json:"loan_id"`
	MemberID uuid.UUID `json:"member_id"`
	Tenure   int       `json:"tenure"`
}

func (DisbursementMetadata) MetadataKind() EntryKind { return KindDisbursement }

// RepaymentMetadata identifies the period a repayment settles. UploadID is
// a pointer so manual repayments carry no upload key at all; a zero-valued
// uuid.UUID would defeat omitempty and persist as an all-zero id.
type RepaymentMetadata struct {
	LoanID   uuid.UUID  `json:"loan_id"`
	Month    int        `json:"month"`
	Year     int        `json:"year"`
	Source   string     `json:"source,omitempty"` // "manual", "bulk_upload"
	UploadID *uuid.UUID `json:"upload_id,omitempty"`
}

func (RepaymentMetadata) MetadataKind() EntryKind { return KindRepayment }

// AdjustmentMetadata explains a manual correction.
type AdjustmentMetadata struct {
	Reason       string `json:"reason"`
	AuthorizedBy string `json:"authorized_by"`
}

func (AdjustmentMetadata) MetadataKind() EntryKind { return KindAdjustment }

// ReversalMetadata points back at the reversed entry.
type ReversalMetadata struct {
	ReversedEntryID uuid.UUID `json:"reversed_entry_id"`
	Reason          string    `json:"reason"`
}

func (ReversalMetadata) MetadataKind() EntryKind { return KindReversal }

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// LedgerEntry is a single signed monetary event.
type LedgerEntry struct {
	ID        uuid.UUID
	Kind      EntryKind
	Direction Direction
	Domain    Domain

	// Amount is the positive magnitude of the entry. The effect's sign
	// comes from Direction.
	Amount money.Money

	// BalanceAfter is the owning account's balance immediately after this
	// entry's effect. Written by the processor on apply.
	BalanceAfter money.Money

	Status EntryStatus

	// Relations: at most one of LoanID/SavingsID/SharesID is non-nil.
	MemberID  uuid.UUID
	LoanID    *uuid.UUID
	SavingsID *uuid.UUID
	SharesID  *uuid.UUID

	// ParentEntryID is set only on reversals, pointing at the reversed entry.
	ParentEntryID *uuid.UUID

	// RequestID links the entry to an approval workflow, when one exists.
	RequestID *uuid.UUID

	Metadata    EntryMetadata
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RelationCount returns how many of the entity relations are set.
func (e *LedgerEntry) RelationCount() int {
	n := 0
	if e.LoanID != nil {
		n++
	}
	if e.SavingsID != nil {
		n++
	}
	if e.SharesID != nil {
		n++
	}
	return n
}

// SignedAmount returns the amount with the direction's sign applied:
// credits positive, debits negative.
func (e *LedgerEntry) SignedAmount() money.Money {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// IsTerminal reports whether the entry can no longer move.
func (e *LedgerEntry) IsTerminal() bool {
	switch e.Status {
	case EntryReversed, EntryCancelled, EntryFailed:
		return true
	}
	return false
}

// EntryStatusChange is one row of an entry's append-only status history.
type EntryStatusChange struct {
	ID        uuid.UUID
	EntryID   uuid.UUID
	From      EntryStatus
	To        EntryStatus
	Actor     string
	Notes     string
	ChangedAt time.Time
}
