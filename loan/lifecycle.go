/*
lifecycle.go - Application intake, approval ladder, and disbursement

PURPOSE:
  Drives a loan from application to payout through four ordered approval
  levels: review -> financial review -> final approval -> disbursement
  approval. Exactly one approval step is PENDING at a time, and an approval
  is rejected unless its level matches the loan's NextApprovalLevel - this
  blocks out-of-order and replayed approvals.

ATOMICITY:
  Intake persists loan + schedules + first approval step + history in one
  unit. Approving the disbursement level creates the disbursement ledger
  entry through the transaction service inside the same unit that moves
  the loan to DISBURSED and then ACTIVE.

ELIGIBILITY:
  Intake calls the eligibility engine with the unit's own reads - the same
  engine the pre-check endpoint uses. The rules live in exactly one place.
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

// Application is the intake request.
type Application struct {
	MemberID   uuid.UUID
	LoanTypeID uuid.UUID
	Amount     money.Money
	Tenure     int
	Purpose    string
	AppliedBy  string
}

// LifecycleService orchestrates the loan state machine.
type LifecycleService struct {
	store       models.Store
	txns        *ledger.Service
	eligibility *EligibilityEngine
	notifier    notify.Notifier
}

func NewLifecycleService(store models.Store, txns *ledger.Service, eligibility *EligibilityEngine, notifier notify.Notifier) *LifecycleService {
	return &LifecycleService{store: store, txns: txns, eligibility: eligibility, notifier: notifier}
}

// =============================================================================
// INTAKE
// =============================================================================

// Apply takes a loan application: eligibility, quote, loan + schedules +
// first approval step, all in one unit.
func (s *LifecycleService) Apply(ctx context.Context, app Application) (*models.Loan, error) {
	if app.Tenure <= 0 {
		return nil, models.Invalid("tenure", "tenure must be positive")
	}
	if !app.Amount.IsPositive() {
		return nil, models.Invalid("amount", "amount must be positive")
	}

	var created *models.Loan
	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		elig, err := s.eligibility.CheckInUnit(ctx, uow, app.MemberID, app.LoanTypeID, app.Amount, app.Tenure)
		if err != nil {
			return err
		}
		if !elig.IsEligible {
			return models.Invalid("application", "member not eligible: %s", elig.Reason)
		}

		lt, err := uow.LoanTypes().Get(ctx, app.LoanTypeID)
		if err != nil {
			return err
		}
		quote, err := Calculate(lt, app.Amount, app.Tenure, models.Now())
		if err != nil {
			return err
		}

		now := models.Now()
		l := &models.Loan{
			ID:                uuid.New(),
			MemberID:          app.MemberID,
			LoanTypeID:        app.LoanTypeID,
			PrincipalAmount:   quote.Principal,
			InterestAmount:    quote.Interest,
			TotalAmount:       quote.Total,
			PaidAmount:        money.Zero(),
			RemainingBalance:  quote.Total,
			Tenure:            app.Tenure,
			Status:            models.LoanPending,
			NextApprovalLevel: models.LevelReview,
			Purpose:           app.Purpose,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := uow.Loans().Create(ctx, l); err != nil {
			return err
		}

		rows := make([]*models.LoanSchedule, 0, len(quote.Schedule))
		for _, line := range quote.Schedule {
			rows = append(rows, &models.LoanSchedule{
				ID:               uuid.New(),
				LoanID:           l.ID,
				Sequence:         line.Sequence,
				DueDate:          line.PaymentDate,
				PrincipalPortion: line.Principal,
				InterestPortion:  line.Interest,
				ExpectedAmount:   line.Expected,
				PaidAmount:       money.Zero(),
				RemainingBalance: line.Expected,
				Status:           models.SchedulePending,
			})
		}
		if err := uow.Schedules().CreateBatch(ctx, rows); err != nil {
			return err
		}

		if err := uow.Approvals().Create(ctx, &models.ApprovalStep{
			ID:        uuid.New(),
			LoanID:    l.ID,
			Level:     models.LevelReview,
			Status:    models.StepPending,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if err := uow.Loans().AppendStatusChange(ctx, models.LoanStatusChange{
			ID: uuid.New(), LoanID: l.ID, From: "", To: models.LoanPending,
			Actor: app.AppliedBy, Reason: "application submitted", ChangedAt: now,
		}); err != nil {
			return err
		}

		created = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// =============================================================================
// APPROVAL LADDER
// =============================================================================

// levelTargets maps an approved level to the loan status it produces.
var levelTargets = map[models.ApprovalLevel]models.LoanStatus{
	models.LevelReview:          models.LoanInReview,
	models.LevelFinancialReview: models.LoanReviewed,
	models.LevelFinalApproval:   models.LoanApproved,
	models.LevelDisbursement:    models.LoanDisbursed,
}

// Approve resolves the pending step at the given level and advances the
// loan. Approving the disbursement level pays the loan out.
func (s *LifecycleService) Approve(ctx context.Context, loanID uuid.UUID, level models.ApprovalLevel, actor, notes string) (*models.Loan, error) {
	var result *models.Loan
	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		l, step, err := s.pendingStep(ctx, uow, loanID)
		if err != nil {
			return err
		}
		if level != l.NextApprovalLevel || level != step.Level {
			return models.Invalid("level", "approval level %d does not match pending level %d",
				level, step.Level)
		}

		now := models.Now()
		step.Status = models.StepApproved
		step.Actor = actor
		step.Notes = notes
		step.ResolvedAt = &now
		if err := uow.Approvals().Update(ctx, step); err != nil {
			return err
		}

		if level == models.LevelDisbursement {
			if err := s.disburse(ctx, uow, l, actor, notes); err != nil {
				return err
			}
		} else {
			if err := transitionLoan(ctx, uow, l, levelTargets[level], actor, notes); err != nil {
				return err
			}
			l.NextApprovalLevel = level + 1
			if err := uow.Loans().Update(ctx, l); err != nil {
				return err
			}
			if err := uow.Approvals().Create(ctx, &models.ApprovalStep{
				ID:        uuid.New(),
				LoanID:    l.ID,
				Level:     level + 1,
				Status:    models.StepPending,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// disburse creates the payout entry and activates the loan, inside the
// caller's unit. The entry is created while the loan is still APPROVED,
// which is the state the disbursement processor validates against; the
// APPROVED -> DISBURSED -> ACTIVE transitions follow in the same unit.
func (s *LifecycleService) disburse(ctx context.Context, uow models.UnitOfWork, l *models.Loan, actor, notes string) error {
	loanID := l.ID
	_, err := s.txns.CreateInUnit(ctx, uow, &models.LedgerEntry{
		Kind:     models.KindDisbursement,
		Amount:   l.PrincipalAmount,
		MemberID: l.MemberID,
		LoanID:   &loanID,
		Metadata: models.DisbursementMetadata{
			LoanID:   l.ID,
			MemberID: l.MemberID,
			Tenure:   l.Tenure,
		},
		Description: "loan disbursement",
		CreatedBy:   actor,
	}, true)
	if err != nil {
		return err
	}

	// DISBURSED -> ACTIVE immediately; both transitions are in the history.
	if err := transitionLoan(ctx, uow, l, models.LoanDisbursed, actor, notes); err != nil {
		return err
	}
	if err := transitionLoan(ctx, uow, l, models.LoanActive, actor, "disbursement posted"); err != nil {
		return err
	}
	l.NextApprovalLevel = 0
	if err := uow.Loans().Update(ctx, l); err != nil {
		return err
	}

	notify.BestEffort(ctx, s.notifier, notify.Notification{
		UserID:   l.MemberID.String(),
		Title:    "Loan disbursed",
		Message:  fmt.Sprintf("Loan of %s has been disbursed.", l.PrincipalAmount.StringFixed()),
		Metadata: map[string]string{"loan_id": l.ID.String()},
	})
	return nil
}

// Reject terminates the application at whatever level is pending.
// Re-application is a new loan; there is no resubmission path.
func (s *LifecycleService) Reject(ctx context.Context, loanID uuid.UUID, actor, reason string) (*models.Loan, error) {
	var result *models.Loan
	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		l, step, err := s.pendingStep(ctx, uow, loanID)
		if err != nil {
			return err
		}

		now := models.Now()
		step.Status = models.StepRejected
		step.Actor = actor
		step.Notes = reason
		step.ResolvedAt = &now
		if err := uow.Approvals().Update(ctx, step); err != nil {
			return err
		}

		if err := transitionLoan(ctx, uow, l, models.LoanRejected, actor, reason); err != nil {
			return err
		}
		l.NextApprovalLevel = 0
		if err := uow.Loans().Update(ctx, l); err != nil {
			return err
		}

		notify.BestEffort(ctx, s.notifier, notify.Notification{
			UserID:   l.MemberID.String(),
			Title:    "Loan application rejected",
			Message:  reason,
			Metadata: map[string]string{"loan_id": l.ID.String()},
		})

		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus applies an operational status move (ACTIVE <-> DEFAULTED,
// DEFAULTED -> COMPLETED) through the state table.
func (s *LifecycleService) UpdateStatus(ctx context.Context, loanID uuid.UUID, to models.LoanStatus, actor, reason string) (*models.Loan, error) {
	var result *models.Loan
	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		l, err := s.getLoan(ctx, uow, loanID)
		if err != nil {
			return err
		}
		if err := transitionLoan(ctx, uow, l, to, actor, reason); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a loan by id.
func (s *LifecycleService) Get(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return s.getLoan(ctx, s.store, id)
}

// Schedules returns a loan's schedule rows in due-date order.
func (s *LifecycleService) Schedules(ctx context.Context, loanID uuid.UUID) ([]*models.LoanSchedule, error) {
	return s.store.Schedules().ListByLoan(ctx, loanID)
}

// StatusHistory returns a loan's append-only status log.
func (s *LifecycleService) StatusHistory(ctx context.Context, loanID uuid.UUID) ([]models.LoanStatusChange, error) {
	return s.store.Loans().StatusHistory(ctx, loanID)
}

// =============================================================================
// HELPERS
// =============================================================================

// transitionLoan moves a loan through the state table, persisting the loan
// and appending to the status history. Shared with the repayment path.
func transitionLoan(ctx context.Context, uow models.UnitOfWork, l *models.Loan, to models.LoanStatus, actor, reason string) error {
	if !models.CanTransitionLoan(l.Status, to) {
		return &models.TransitionError{Entity: "loan", From: string(l.Status), To: string(to)}
	}
	from := l.Status
	l.Status = to
	l.UpdatedAt = models.Now()
	if err := uow.Loans().Update(ctx, l); err != nil {
		return err
	}
	return uow.Loans().AppendStatusChange(ctx, models.LoanStatusChange{
		ID:        uuid.New(),
		LoanID:    l.ID,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		ChangedAt: models.Now(),
	})
}

func (s *LifecycleService) pendingStep(ctx context.Context, uow models.UnitOfWork, loanID uuid.UUID) (*models.Loan, *models.ApprovalStep, error) {
	l, err := s.getLoan(ctx, uow, loanID)
	if err != nil {
		return nil, nil, err
	}
	step, err := uow.Approvals().Pending(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	if step == nil {
		return nil, nil, models.Invalid("loan_id", "loan %s has no pending approval step", loanID)
	}
	return l, step, nil
}

func (s *LifecycleService) getLoan(ctx context.Context, uow models.UnitOfWork, id uuid.UUID) (*models.Loan, error) {
	l, err := uow.Loans().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, &models.NotFoundError{Entity: "loan", ID: id.String()}
	}
	return l, nil
}
