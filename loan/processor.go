/*
processor.go - Ledger processor for LOAN-domain entries

PURPOSE:
  Applies disbursements, repayments, interest, and penalties to loans.
  This is the only code that writes Loan.PaidAmount / RemainingBalance
  (repayments) and the posted-dues side of TotalAmount (interest,
  penalties).

REVERSAL ORDERING INVARIANT:
  A disbursement can only be reversed while the loan has no repayment
  history. Once anything has been posted against the loan, undoing the
  payout would orphan the repayments; the reversal is refused. A permitted
  reversal moves the loan back to APPROVED and queues a fresh disbursement
  approval step, so the payout can be re-run.
*/
package loan

import (
	"context"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

// Processor handles entries in the LOAN domain.
type Processor struct {
	allocator *Allocator
}

func NewProcessor(allocator *Allocator) *Processor {
	return &Processor{allocator: allocator}
}

func (p *Processor) Validate(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	l, err := p.loan(ctx, uow, e)
	if err != nil {
		return err
	}

	switch e.Kind {
	case models.KindDisbursement:
		if l.Status != models.LoanApproved {
			return models.Invalid("loan_id", "disbursement requires an APPROVED loan, got %s", l.Status)
		}
	case models.KindRepayment:
		switch l.Status {
		case models.LoanDisbursed, models.LoanActive, models.LoanDefaulted:
		default:
			return models.Invalid("loan_id", "repayment requires a live loan, got %s", l.Status)
		}
	case models.KindInterest, models.KindPenalty:
		if l.Status != models.LoanActive && l.Status != models.LoanDefaulted {
			return models.Invalid("loan_id", "%s requires an active loan, got %s", e.Kind, l.Status)
		}
	}
	return nil
}

func (p *Processor) Apply(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	l, err := p.loan(ctx, uow, e)
	if err != nil {
		return err
	}

	switch e.Kind {
	case models.KindDisbursement:
		// The payout itself does not move loan totals (they were fixed at
		// application); the loan account now owes its full total.
		e.BalanceAfter = l.RemainingBalance
		return nil

	case models.KindRepayment:
		return p.allocator.ApplyRepaymentEntry(ctx, uow, e, l)

	case models.KindInterest, models.KindPenalty:
		l.InterestAmount = l.InterestAmount.Add(e.Amount).Round()
		l.TotalAmount = l.TotalAmount.Add(e.Amount).Round()
		l.Recalculate()
		l.UpdatedAt = models.Now()
		if err := uow.Loans().Update(ctx, l); err != nil {
			return err
		}
		e.BalanceAfter = l.RemainingBalance
		return nil
	}

	// Loan-domain adjustment routed here by domain: record-only.
	e.BalanceAfter = l.RemainingBalance
	return nil
}

func (p *Processor) OnStatusChange(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, prev models.EntryStatus) error {
	return nil
}

// Reverse inverts a loan-domain entry's effect.
func (p *Processor) Reverse(ctx context.Context, uow models.UnitOfWork, reversal, original *models.LedgerEntry) error {
	l, err := p.loan(ctx, uow, original)
	if err != nil {
		return err
	}

	switch original.Kind {
	case models.KindDisbursement:
		n, err := uow.Repayments().CountByLoan(ctx, l.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return models.Invalid("entry", "cannot reverse disbursement: loan has %d posted repayments", n)
		}
		// Undoing the payout returns the loan to the disbursement queue:
		// back to APPROVED with a fresh pending step at the payout level,
		// so the ledger and the loan state tell the same story.
		l.NextApprovalLevel = models.LevelDisbursement
		if err := transitionLoan(ctx, uow, l, models.LoanApproved, reversal.CreatedBy, "disbursement reversed"); err != nil {
			return err
		}
		if err := uow.Approvals().Create(ctx, &models.ApprovalStep{
			ID:        uuid.New(),
			LoanID:    l.ID,
			Level:     models.LevelDisbursement,
			Status:    models.StepPending,
			CreatedAt: models.Now(),
		}); err != nil {
			return err
		}
		reversal.BalanceAfter = money.Zero()
		return nil

	case models.KindRepayment:
		return p.reverseRepayment(ctx, uow, reversal, original, l)

	case models.KindInterest, models.KindPenalty:
		l.InterestAmount = l.InterestAmount.Sub(original.Amount).ClampZero()
		l.TotalAmount = l.TotalAmount.Sub(original.Amount).ClampZero()
		l.Recalculate()
		l.UpdatedAt = models.Now()
		if err := uow.Loans().Update(ctx, l); err != nil {
			return err
		}
		reversal.BalanceAfter = l.RemainingBalance
		return nil
	}

	reversal.BalanceAfter = l.RemainingBalance
	return nil
}

// reverseRepayment restores loan totals and walks the schedules newest-first
// to back the payment out.
func (p *Processor) reverseRepayment(ctx context.Context, uow models.UnitOfWork, reversal, original *models.LedgerEntry, l *models.Loan) error {
	schedules, err := uow.Schedules().ListByLoan(ctx, l.ID)
	if err != nil {
		return err
	}

	remaining := original.Amount
	for i := len(schedules) - 1; i >= 0 && remaining.IsPositive(); i-- {
		row := schedules[i]
		if !row.PaidAmount.IsPositive() {
			continue
		}
		portion := remaining.Min(row.PaidAmount)
		row.PaidAmount = row.PaidAmount.Sub(portion).ClampZero()
		row.RemainingBalance = row.Outstanding()
		switch {
		case row.PaidAmount.IsZero():
			row.Status = models.SchedulePending
		case row.RemainingBalance.LessThanOrEqual(money.Tolerance):
			row.Status = models.SchedulePaid
		default:
			row.Status = models.SchedulePartial
		}
		if err := uow.Schedules().Update(ctx, row); err != nil {
			return err
		}
		remaining = remaining.Sub(portion)
	}

	l.PaidAmount = l.PaidAmount.Sub(original.Amount).ClampZero()
	l.Recalculate()
	l.UpdatedAt = models.Now()
	if err := uow.Loans().Update(ctx, l); err != nil {
		return err
	}

	reversal.BalanceAfter = l.RemainingBalance
	return nil
}

func (p *Processor) loan(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) (*models.Loan, error) {
	if e.LoanID == nil {
		return nil, models.Invalid("loan_id", "loan entry requires a loan")
	}
	l, err := uow.Loans().Get(ctx, *e.LoanID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, &models.NotFoundError{Entity: "loan", ID: e.LoanID.String()}
	}
	return l, nil
}
