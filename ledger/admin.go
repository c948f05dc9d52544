/*
admin.go - Default processor for adjustments, fees, and unowned entries

PURPOSE:
  Handles ADMIN-domain entries (manual adjustments, fees) and serves as the
  registry's fallback when no kind or domain processor matches. An
  adjustment carries an explicit direction and applies its signed amount to
  whichever account relation is set; with no relation set it is a pure
  record with no balance effect.
*/
package ledger

import (
	"context"

	"github.com/coopfin/ledger-engine/models"
)

// AdminProcessor handles ADMIN-domain entries and fallback resolutions.
type AdminProcessor struct {
	savings *SavingsProcessor
	shares  *SharesProcessor
}

func NewAdminProcessor() *AdminProcessor {
	return &AdminProcessor{savings: NewSavingsProcessor(), shares: NewSharesProcessor()}
}

func (p *AdminProcessor) Validate(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	if e.Kind == models.KindAdjustment && e.Direction == "" {
		return models.Invalid("direction", "adjustment requires an explicit direction")
	}
	// Delegate sufficiency checks when the adjustment targets an account.
	switch {
	case e.SavingsID != nil:
		return p.savings.Validate(ctx, uow, e)
	case e.SharesID != nil:
		return p.shares.Validate(ctx, uow, e)
	}
	return nil
}

func (p *AdminProcessor) Apply(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error {
	switch {
	case e.SavingsID != nil:
		return p.savings.Apply(ctx, uow, e)
	case e.SharesID != nil:
		return p.shares.Apply(ctx, uow, e)
	}
	// Record-only entry: no owned balance, BalanceAfter stays zero.
	return nil
}

func (p *AdminProcessor) OnStatusChange(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, prev models.EntryStatus) error {
	return nil
}

func (p *AdminProcessor) Reverse(ctx context.Context, uow models.UnitOfWork, reversal, original *models.LedgerEntry) error {
	switch {
	case original.SavingsID != nil:
		return p.savings.Reverse(ctx, uow, reversal, original)
	case original.SharesID != nil:
		return p.shares.Reverse(ctx, uow, reversal, original)
	}
	return nil
}
