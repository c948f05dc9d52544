/*
eligibility.go - Cross-loan-type eligibility rules

PURPOSE:
  Decides whether a member may take a new loan of a given type, and up to
  how much. One engine serves both the pre-check endpoint and the
  application path: the lifecycle service calls this engine, never a copy
  of its rules.

RULE SET (closed; first matching conflict wins):
  1. A member with a DEFAULTED loan is ineligible for any new loan.
  2. A member with no active savings account is ineligible.
  3. No two concurrent soft loans.
  4. No "regular" and "1-year-plus" loan held simultaneously, either order.
  5. No two concurrent regular loans.

MAX AMOUNT:
  Soft loans: fixed ceiling (configured).
  Regular / 1-year-plus: savings balance * the loan type's multiplier,
  further capped by the type's own maximum.
*/
package loan

import (
	"context"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

// DefaultSoftLoanCeiling caps soft loans when no ceiling is configured.
var DefaultSoftLoanCeiling = money.FromInt(500000)

// Eligibility is the outcome of a check.
type Eligibility struct {
	IsEligible bool
	MaxAmount  money.Money
	Reason     string
}

// EligibilityEngine evaluates the rule set against a member's portfolio.
type EligibilityEngine struct {
	store           models.Store
	SoftLoanCeiling money.Money
}

func NewEligibilityEngine(store models.Store) *EligibilityEngine {
	return &EligibilityEngine{store: store, SoftLoanCeiling: DefaultSoftLoanCeiling}
}

// Check evaluates eligibility outside any unit (the pre-check endpoint).
func (e *EligibilityEngine) Check(ctx context.Context, memberID, loanTypeID uuid.UUID, amount money.Money, tenure int) (*Eligibility, error) {
	return e.CheckInUnit(ctx, e.store, memberID, loanTypeID, amount, tenure)
}

// CheckInUnit evaluates eligibility with the given unit's reads, so the
// application path sees the same state it is about to write against.
func (e *EligibilityEngine) CheckInUnit(ctx context.Context, uow models.UnitOfWork, memberID, loanTypeID uuid.UUID, amount money.Money, tenure int) (*Eligibility, error) {
	target, err := uow.LoanTypes().Get(ctx, loanTypeID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &models.NotFoundError{Entity: "loan type", ID: loanTypeID.String()}
	}
	if !target.Active {
		return &Eligibility{Reason: "loan type is inactive"}, nil
	}

	member, err := uow.Members().Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, &models.NotFoundError{Entity: "member", ID: memberID.String()}
	}

	active, err := uow.Loans().ListActiveByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	// Rule 1: any defaulted loan blocks everything.
	for _, l := range active {
		if l.Status == models.LoanDefaulted {
			return &Eligibility{Reason: "member has a defaulted loan"}, nil
		}
	}

	// Rule 2: a live savings record is required.
	savings, err := uow.Savings().GetByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if savings == nil || savings.Status != models.AccountActive {
		return &Eligibility{Reason: "member has no active savings account"}, nil
	}

	// Rules 3-5: cross-type conflicts. First match wins.
	for _, l := range active {
		held, err := uow.LoanTypes().Get(ctx, l.LoanTypeID)
		if err != nil {
			return nil, err
		}
		if held == nil {
			continue
		}
		switch {
		case target.IsSoft() && held.IsSoft():
			return &Eligibility{Reason: "member already holds a soft loan"}, nil
		case target.IsRegular() && held.IsOneYearPlus():
			return &Eligibility{Reason: "member holds a 1-year-plus loan; regular loan not allowed"}, nil
		case target.IsOneYearPlus() && held.IsRegular():
			return &Eligibility{Reason: "member holds a regular loan; 1-year-plus loan not allowed"}, nil
		case target.IsRegular() && held.IsRegular():
			return &Eligibility{Reason: "member already holds a regular loan"}, nil
		}
	}

	maxAmount := e.maxAmount(target, savings)
	if !maxAmount.IsPositive() {
		return &Eligibility{Reason: "savings balance supports no loan amount"}, nil
	}

	if amount.IsPositive() && amount.GreaterThan(maxAmount) {
		return &Eligibility{
			MaxAmount: maxAmount,
			Reason:    "requested amount exceeds maximum eligible amount " + maxAmount.StringFixed(),
		}, nil
	}

	if tenure > 0 && (tenure < target.MinDuration || tenure > target.MaxDuration) {
		return &Eligibility{MaxAmount: maxAmount, Reason: "tenure outside loan type duration bounds"}, nil
	}

	return &Eligibility{IsEligible: true, MaxAmount: maxAmount}, nil
}

func (e *EligibilityEngine) maxAmount(lt *models.LoanType, savings *models.SavingsAccount) money.Money {
	var ceiling money.Money
	if lt.IsSoft() {
		ceiling = e.SoftLoanCeiling
	} else {
		ceiling = savings.Balance.MulDecimal(lt.SavingsMultiplier).Round()
	}
	if lt.MaxAmount.IsPositive() {
		ceiling = ceiling.Min(lt.MaxAmount)
	}
	return ceiling
}
