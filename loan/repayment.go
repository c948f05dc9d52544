/*
repayment.go - Repayment application: greedy schedule allocation

PURPOSE:
  Applies a single repayment to a loan inside the ledger. Allocation is
  greedy over the oldest unpaid/partial schedule rows in due-date order,
  never overflowing a single row's expected amount. Money left over after
  every schedule is satisfied is applied against unscheduled dues (posted
  interest/penalties); money beyond the loan's remaining balance is an
  overpayment failure.

DUPLICATE-PERIOD INVARIANT:
  At most one repayment per (loan, month, year). Checked here inside the
  unit and backed by a unique index in the store - the same belt-and-braces
  approach the schema uses for reversals.

COMPLETION:
  When the remaining balance falls to within the rounding tolerance, the
  loan transitions to COMPLETED in the same unit and a completion
  notification is posted best-effort.
*/
package loan

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/ledger"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
	"github.com/coopfin/ledger-engine/notify"
)

// Allocator applies repayment effects. It is invoked by the loan processor
// inside the transaction service's atomic unit.
type Allocator struct {
	notifier notify.Notifier
}

func NewAllocator(notifier notify.Notifier) *Allocator {
	return &Allocator{notifier: notifier}
}

// ApplyRepaymentEntry applies a completed repayment entry to its loan:
// duplicate-period check, greedy allocation, loan totals, repayment record,
// completion. Writes the post-repayment remaining balance into the entry.
func (a *Allocator) ApplyRepaymentEntry(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, l *models.Loan) error {
	meta, ok := e.Metadata.(models.RepaymentMetadata)
	if !ok {
		return models.Invalid("metadata", "repayment entry requires repayment metadata")
	}
	if meta.Month < 1 || meta.Month > 12 {
		return models.Invalid("month", "month %d outside 1-12", meta.Month)
	}

	exists, err := uow.Repayments().ExistsForPeriod(ctx, l.ID, meta.Month, meta.Year)
	if err != nil {
		return err
	}
	if exists {
		return &models.DuplicateRepaymentError{LoanID: l.ID.String(), Month: meta.Month, Year: meta.Year}
	}

	schedules, err := uow.Schedules().ListByLoan(ctx, l.ID)
	if err != nil {
		return err
	}

	// Installments are rounded per row, so the published schedule can sum
	// a few cents above the loan total. Paying the published amounts must
	// still settle the loan: the guard allows that residue on top of the
	// remaining balance, and PaidAmount is capped at TotalAmount below.
	if e.Amount.GreaterThan(l.RemainingBalance.Add(RoundingResidue(l, schedules))) {
		return models.Invalid("amount", "repayment %s exceeds remaining balance %s",
			e.Amount.StringFixed(), l.RemainingBalance.StringFixed())
	}
	unscheduled := l.RemainingBalance.Sub(scheduledOutstanding(schedules)).ClampZero()

	leftover, firstScheduleID, err := allocate(ctx, uow, schedules, e.Amount)
	if err != nil {
		return err
	}
	// The residue guard bounds the leftover: anything not absorbed by
	// schedules settles unscheduled dues (posted interest or penalties).
	// Leftover beyond those dues is unreachable here, but the guard keeps
	// the overpayment failure explicit.
	if leftover.GreaterThan(unscheduled.Add(money.Tolerance)) {
		return models.Invalid("amount", "repayment overpays all schedules by %s", leftover.StringFixed())
	}

	l.PaidAmount = l.PaidAmount.Add(e.Amount).Round().Min(l.TotalAmount)
	l.Recalculate()
	l.UpdatedAt = models.Now()
	if err := uow.Loans().Update(ctx, l); err != nil {
		return err
	}

	var uploadID *uuid.UUID
	if meta.UploadID != nil {
		id := *meta.UploadID
		uploadID = &id
	}
	repayment := &models.LoanRepayment{
		ID:         uuid.New(),
		LoanID:     l.ID,
		ScheduleID: firstScheduleID,
		EntryID:    e.ID,
		Amount:     e.Amount,
		Month:      meta.Month,
		Year:       meta.Year,
		Source:     meta.Source,
		UploadID:   uploadID,
		CreatedAt:  models.Now(),
	}
	if err := uow.Repayments().Create(ctx, repayment); err != nil {
		return err
	}

	e.BalanceAfter = l.RemainingBalance

	if l.IsSettled() {
		// Whatever the rows still show outstanding is rounding residue;
		// a settled loan closes its schedule out.
		for _, row := range schedules {
			if row.Status == models.SchedulePaid {
				continue
			}
			row.RemainingBalance = money.Zero()
			row.Status = models.SchedulePaid
			if err := uow.Schedules().Update(ctx, row); err != nil {
				return err
			}
		}
		if err := transitionLoan(ctx, uow, l, models.LoanCompleted, "system", "loan fully repaid"); err != nil {
			return err
		}
		// Best-effort: a failed notification never rolls back the unit.
		notify.BestEffort(ctx, a.notifier, notify.Notification{
			UserID:   l.MemberID.String(),
			Title:    "Loan completed",
			Message:  fmt.Sprintf("Loan %s has been fully repaid.", l.ID),
			Metadata: map[string]string{"loan_id": l.ID.String()},
		})
	}

	return nil
}

// scheduledOutstanding sums what the schedule rows still expect.
func scheduledOutstanding(schedules []*models.LoanSchedule) money.Money {
	total := money.Zero()
	for _, row := range schedules {
		total = total.Add(row.Outstanding())
	}
	return total
}

// RoundingResidue returns how far the schedule rows' combined outstanding
// overshoots the loan's remaining balance. Per-row rounding can leave the
// published installments summing a few cents above the loan total; every
// overpayment guard must admit amounts up to the balance plus this residue
// so paying the published schedule settles the loan.
func RoundingResidue(l *models.Loan, schedules []*models.LoanSchedule) money.Money {
	return scheduledOutstanding(schedules).Sub(l.RemainingBalance).ClampZero()
}

// allocate distributes amount across schedule rows oldest-first, updating
// each row's paid amount and status. Returns the unallocated remainder and
// the first schedule the payment touched.
func allocate(ctx context.Context, uow models.UnitOfWork, schedules []*models.LoanSchedule, amount money.Money) (money.Money, *uuid.UUID, error) {
	remaining := amount
	var firstID *uuid.UUID

	for _, row := range schedules {
		if !remaining.IsPositive() {
			break
		}
		if row.Status == models.SchedulePaid {
			continue
		}

		outstanding := row.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}

		portion := remaining.Min(outstanding)
		row.PaidAmount = row.PaidAmount.Add(portion).Round()
		row.RemainingBalance = row.Outstanding()
		if row.RemainingBalance.LessThanOrEqual(money.Tolerance) {
			row.RemainingBalance = money.Zero()
			row.Status = models.SchedulePaid
		} else {
			row.Status = models.SchedulePartial
		}
		if err := uow.Schedules().Update(ctx, row); err != nil {
			return money.Zero(), nil, err
		}

		if firstID == nil {
			id := row.ID
			firstID = &id
		}
		remaining = remaining.Sub(portion)
	}

	return remaining, firstID, nil
}

// =============================================================================
// REPAYMENT SERVICE
// =============================================================================

// RepaymentService posts repayments through the transaction service so the
// loan processor applies them inside one atomic unit.
type RepaymentService struct {
	txns *ledger.Service
}

func NewRepaymentService(txns *ledger.Service) *RepaymentService {
	return &RepaymentService{txns: txns}
}

// Apply posts a repayment of amount against a loan for the given period.
func (s *RepaymentService) Apply(ctx context.Context, loanID uuid.UUID, amount money.Money, month, year int, source, actor string) (*models.LedgerEntry, error) {
	l, err := s.txns.Store().Loans().Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, &models.NotFoundError{Entity: "loan", ID: loanID.String()}
	}

	id := loanID
	draft := &models.LedgerEntry{
		Kind:     models.KindRepayment,
		Amount:   amount,
		MemberID: l.MemberID,
		LoanID:   &id,
		Metadata: models.RepaymentMetadata{
			LoanID: loanID,
			Month:  month,
			Year:   year,
			Source: source,
		},
		Description: fmt.Sprintf("repayment %d/%d", month, year),
		CreatedBy:   actor,
	}
	return s.txns.Create(ctx, draft, true)
}

// ApplyInUnit posts a repayment inside an already-open unit. Used by the
// bulk reconciliation pipeline, whose atomic unit is per member.
func (s *RepaymentService) ApplyInUnit(ctx context.Context, uow models.UnitOfWork, l *models.Loan, amount money.Money, month, year int, source string, uploadID uuid.UUID, actor string) (*models.LedgerEntry, error) {
	id := l.ID
	draft := &models.LedgerEntry{
		Kind:     models.KindRepayment,
		Amount:   amount,
		MemberID: l.MemberID,
		LoanID:   &id,
		Metadata: models.RepaymentMetadata{
			LoanID:   l.ID,
			Month:    month,
			Year:     year,
			Source:   source,
			UploadID: &uploadID,
		},
		Description: fmt.Sprintf("repayment %d/%d", month, year),
		CreatedBy:   actor,
	}
	return s.txns.CreateInUnit(ctx, uow, draft, true)
}
