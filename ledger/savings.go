/*
savings.go - Processor for savings-domain entries

PURPOSE:
  Applies deposits and withdrawals to savings accounts. This is the only
  code that writes SavingsAccount.Balance.

SUFFICIENCY INVARIANT:
  The withdrawal check reads the balance inside the same atomic unit as the
  write. Two concurrent withdrawals cannot both pass validation against a
  stale balance: the second sees the first's debit or blocks on the unit.
*/
package ledger

import (
	"context"

	"github.com/coopfin/ledger-engine/models"
)

// SavingsProcessor handles entries in the SAVINGS domain.
type SavingsProcessor struct{}

func NewSavingsProcessor() *SavingsProcessor { return &SavingsProcessor{} }

func (p *SavingsProcessor) Validate(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	account, err := p.account(ctx, uow, e)
	if err != nil {
		return err
	}
	if account.Status != models.AccountActive {
		return models.Invalid("savings_id", "account is %s", account.Status)
	}
	if e.Direction == models.DirectionDebit && e.Amount.GreaterThan(account.Balance) {
		return &models.InsufficientFundsError{Available: account.Balance, Requested: e.Amount}
	}
	return nil
}

func (p *SavingsProcessor) Apply(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	account, err := p.account(ctx, uow, e)
	if err != nil {
		return err
	}

	// Re-check sufficiency against the in-unit read: validation may have
	// happened in an earlier unit (PENDING entry completed later).
	if e.Direction == models.DirectionDebit && e.Amount.GreaterThan(account.Balance) {
		return &models.InsufficientFundsError{Available: account.Balance, Requested: e.Amount}
	}

	account.Balance = account.Balance.Add(e.SignedAmount()).Round()
	account.UpdatedAt = models.Now()
	if err := uow.Savings().Update(ctx, account); err != nil {
		return err
	}

	e.BalanceAfter = account.Balance
	return nil
}

func (p *SavingsProcessor) OnStatusChange(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, prev models.EntryStatus) error {
	return nil
}

// Reverse inverts the original effect: a reversed credit subtracts, a
// reversed debit adds.
func (p *SavingsProcessor) Reverse(ctx context.Context, uow models.UnitOfWork, reversal, original *models.LedgerEntry) error {
	account, err := p.account(ctx, uow, original)
	if err != nil {
		return err
	}

	account.Balance = account.Balance.Sub(original.SignedAmount()).Round()
	account.UpdatedAt = models.Now()
	if err := uow.Savings().Update(ctx, account); err != nil {
		return err
	}

	reversal.BalanceAfter = account.Balance
	return nil
}

func (p *SavingsProcessor) account(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) (*models.SavingsAccount, error) {
	if e.SavingsID == nil {
		return nil, models.Invalid("savings_id", "savings entry requires a savings account")
	}
	account, err := uow.Savings().Get(ctx, *e.SavingsID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &models.NotFoundError{Entity: "savings account", ID: e.SavingsID.String()}
	}
	return account, nil
}
