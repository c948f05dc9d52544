/*
shares.go - Processor for shares-domain entries

PURPOSE:
  Applies purchases, liquidations, and dividends to share holdings. This is
  the only code that writes ShareHolding.TotalValue and Units.
*/
package ledger

import (
	"context"

	"github.com/coopfin/ledger-engine/models"
)

// SharesProcessor handles entries in the SHARES domain.
type SharesProcessor struct{}

func NewSharesProcessor() *SharesProcessor { return &SharesProcessor{} }

func (p *SharesProcessor) Validate(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	holding, err := p.holding(ctx, uow, e)
	if err != nil {
		return err
	}
	if holding.Status != models.AccountActive {
		return models.Invalid("shares_id", "holding is %s", holding.Status)
	}
	if e.Direction == models.DirectionDebit && e.Amount.GreaterThan(holding.TotalValue) {
		return &models.InsufficientFundsError{Available: holding.TotalValue, Requested: e.Amount}
	}
	return nil
}

func (p *SharesProcessor) Apply(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	holding, err := p.holding(ctx, uow, e)
	if err != nil {
		return err
	}

	if e.Direction == models.DirectionDebit && e.Amount.GreaterThan(holding.TotalValue) {
		return &models.InsufficientFundsError{Available: holding.TotalValue, Requested: e.Amount}
	}

	holding.TotalValue = holding.TotalValue.Add(e.SignedAmount()).Round()

	// Purchases and liquidations move the unit count; dividends only move
	// value.
	if e.Kind == models.KindPurchase || e.Kind == models.KindLiquidation {
		if holding.UnitPrice.IsPositive() {
			deltaUnits := e.SignedAmount().Decimal().Div(holding.UnitPrice.Decimal())
			holding.Units = holding.Units.Add(deltaUnits)
		}
	}

	holding.UpdatedAt = models.Now()
	if err := uow.Shares().Update(ctx, holding); err != nil {
		return err
	}

	e.BalanceAfter = holding.TotalValue
	return nil
}

func (p *SharesProcessor) OnStatusChange(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, prev models.EntryStatus) error {
	return nil
}

func (p *SharesProcessor) Reverse(ctx context.Context, uow models.UnitOfWork, reversal, original *models.LedgerEntry) error {
	holding, err := p.holding(ctx, uow, original)
	if err != nil {
		return err
	}

	holding.TotalValue = holding.TotalValue.Sub(original.SignedAmount()).Round()
	if original.Kind == models.KindPurchase || original.Kind == models.KindLiquidation {
		if holding.UnitPrice.IsPositive() {
			deltaUnits := original.SignedAmount().Decimal().Div(holding.UnitPrice.Decimal())
			holding.Units = holding.Units.Sub(deltaUnits)
		}
	}

	holding.UpdatedAt = models.Now()
	if err := uow.Shares().Update(ctx, holding); err != nil {
		return err
	}

	reversal.BalanceAfter = holding.TotalValue
	return nil
}

func (p *SharesProcessor) holding(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) (*models.ShareHolding, error) {
	if e.SharesID == nil {
		return nil, models.Invalid("shares_id", "shares entry requires a share holding")
	}
	holding, err := uow.Shares().Get(ctx, *e.SharesID)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		return nil, &models.NotFoundError{Entity: "share holding", ID: e.SharesID.String()}
	}
	return holding, nil
}
