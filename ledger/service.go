/*
service.go - Transaction service: the atomicity boundary for balance changes

PURPOSE:
  Orchestrates entry creation, status transitions, reversal, and batch
  submission. Every path that touches a balance does so inside one atomic
  unit: entry persist, processor apply, balance write, and history append
  commit together or not at all.

OPERATIONS:
  Create:      Validate -> resolve processor -> persist (PENDING or
               COMPLETED) -> apply iff auto-completing, all in one unit.
  Transition:  Reject moves absent from the state table. Completing a
               PENDING/PROCESSING entry applies the effect and runs the
               status-change hook in the same unit; every other transition
               only updates status and appends history.
  Reverse:     COMPLETED entries only. Spawns a new opposite-direction
               entry (parent = original), applies the inverse effect, and
               marks the original REVERSED, all in one unit. Re-invoking
               on a REVERSED entry fails cleanly with ALREADY_REVERSED.
  CreateBatch: asUnit=true pre-validates everything, then persists and
               applies all-or-nothing. asUnit=false processes each entry
               independently and fails only if zero succeeded.

SEE ALSO:
  - processor.go: The per-domain effect contract
  - models/status.go: The entry state table
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/models"
)

// Service is the transaction service.
type Service struct {
	store    models.Store
	registry *Registry
}

// NewService builds a transaction service over a store and registry.
func NewService(store models.Store, registry *Registry) *Service {
	return &Service{store: store, registry: registry}
}

// Registry exposes the processor registry for wiring.
func (s *Service) Registry() *Registry { return s.registry }

// Store exposes the backing store for collaborating services that need to
// join the same atomic units.
func (s *Service) Store() models.Store { return s.store }

// =============================================================================
// CREATE
// =============================================================================

// Create validates, persists, and (if autoComplete) applies a new entry.
func (s *Service) Create(ctx context.Context, draft *models.LedgerEntry, autoComplete bool) (*models.LedgerEntry, error) {
	if err := s.normalize(draft); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		return s.createInUnit(ctx, uow, draft, autoComplete)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// CreateInUnit persists and applies an entry inside an already-open unit.
// Used by collaborating services (disbursement, repayment) whose own
// mutations must commit atomically with the entry.
func (s *Service) CreateInUnit(ctx context.Context, uow models.UnitOfWork, draft *models.LedgerEntry, autoComplete bool) (*models.LedgerEntry, error) {
	if err := s.normalize(draft); err != nil {
		return nil, err
	}
	if err := s.createInUnit(ctx, uow, draft, autoComplete); err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *Service) createInUnit(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, autoComplete bool) error {
	processor := s.registry.Resolve(e)
	if err := processor.Validate(ctx, uow, e); err != nil {
		return err
	}

	e.Status = models.EntryPending
	if autoComplete {
		e.Status = models.EntryCompleted
	}

	if autoComplete {
		// Apply before persist so BalanceAfter is stored with the entry.
		if err := processor.Apply(ctx, uow, e); err != nil {
			return err
		}
	}

	if err := uow.Entries().Create(ctx, e); err != nil {
		return fmt.Errorf("%w: persisting entry: %w", models.ErrProcessing, err)
	}

	return uow.Entries().AppendStatusChange(ctx, models.EntryStatusChange{
		ID:        uuid.New(),
		EntryID:   e.ID,
		From:      "",
		To:        e.Status,
		Actor:     e.CreatedBy,
		Notes:     "created",
		ChangedAt: models.Now(),
	})
}

// normalize fills derived fields and checks generic invariants before any
// store access.
func (s *Service) normalize(e *models.LedgerEntry) error {
	if !models.ValidKind(e.Kind) {
		return models.Invalid("kind", "unknown transaction kind %q", e.Kind)
	}
	if e.Kind == models.KindReversal {
		return models.Invalid("kind", "reversal entries are created via Reverse, not Create")
	}
	if !e.Amount.IsPositive() {
		return models.Invalid("amount", "amount must be positive, got %s", e.Amount)
	}
	if e.RelationCount() > 1 {
		return models.Invalid("relations", "at most one of loan/savings/shares may be set")
	}
	if e.MemberID == uuid.Nil {
		return models.Invalid("member_id", "member is required")
	}

	if dir, ok := models.DirectionFor(e.Kind); ok {
		e.Direction = dir
	} else if e.Direction != models.DirectionCredit && e.Direction != models.DirectionDebit {
		return models.Invalid("direction", "%s requires an explicit direction", e.Kind)
	}
	if domain, ok := models.DomainFor(e.Kind); ok && e.Domain == "" {
		e.Domain = domain
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := models.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return nil
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition moves an entry through the status state machine.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to models.EntryStatus, actor, notes string) (*models.LedgerEntry, error) {
	var result *models.LedgerEntry

	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		e, err := s.getEntry(ctx, uow, id)
		if err != nil {
			return err
		}

		if !models.CanTransitionEntry(e.Status, to) {
			return &models.TransitionError{Entity: "ledger entry", From: string(e.Status), To: string(to)}
		}

		prev := e.Status
		e.Status = to
		e.UpdatedAt = models.Now()

		// Completing applies the domain effect inside this same unit.
		if to == models.EntryCompleted {
			processor := s.registry.Resolve(e)
			if err := processor.Apply(ctx, uow, e); err != nil {
				return err
			}
			if err := processor.OnStatusChange(ctx, uow, e, prev); err != nil {
				return err
			}
		}

		if err := uow.Entries().Update(ctx, e); err != nil {
			return fmt.Errorf("%w: updating entry: %w", models.ErrProcessing, err)
		}
		if err := uow.Entries().AppendStatusChange(ctx, models.EntryStatusChange{
			ID:        uuid.New(),
			EntryID:   e.ID,
			From:      prev,
			To:        to,
			Actor:     actor,
			Notes:     notes,
			ChangedAt: models.Now(),
		}); err != nil {
			return err
		}

		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// REVERSE
// =============================================================================

// Reverse undoes a COMPLETED entry by spawning an opposite-direction entry.
// History is never mutated: the original stays in the ledger, marked
// REVERSED, with the reversal pointing at it.
func (s *Service) Reverse(ctx context.Context, id uuid.UUID, reason, actor string) (*models.LedgerEntry, error) {
	var reversal *models.LedgerEntry

	err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		original, err := s.getEntry(ctx, uow, id)
		if err != nil {
			return err
		}

		if original.Status == models.EntryReversed {
			return fmt.Errorf("%w: entry %s", models.ErrAlreadyReversed, id)
		}
		if original.Status != models.EntryCompleted {
			return &models.TransitionError{Entity: "ledger entry", From: string(original.Status), To: string(models.EntryReversed)}
		}
		// Backstop against a reversal child existing without the original
		// being marked yet (should be unreachable inside a unit).
		if has, err := uow.Entries().HasReversal(ctx, original.ID); err != nil {
			return err
		} else if has {
			return fmt.Errorf("%w: entry %s", models.ErrAlreadyReversed, id)
		}

		processor := s.registry.Resolve(original)
		reverser, ok := processor.(Reverser)
		if !ok {
			return models.Invalid("kind", "%s entries cannot be reversed", original.Kind)
		}

		now := models.Now()
		parentID := original.ID
		reversal = &models.LedgerEntry{
			ID:            uuid.New(),
			Kind:          models.KindReversal,
			Direction:     opposite(original.Direction),
			Domain:        original.Domain,
			Amount:        original.Amount,
			Status:        models.EntryCompleted,
			MemberID:      original.MemberID,
			LoanID:        original.LoanID,
			SavingsID:     original.SavingsID,
			SharesID:      original.SharesID,
			ParentEntryID: &parentID,
			Metadata:      models.ReversalMetadata{ReversedEntryID: original.ID, Reason: reason},
			Description:   "reversal of " + original.ID.String(),
			CreatedBy:     actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := reverser.Reverse(ctx, uow, reversal, original); err != nil {
			return err
		}

		if err := uow.Entries().Create(ctx, reversal); err != nil {
			return fmt.Errorf("%w: persisting reversal: %w", models.ErrProcessing, err)
		}
		if err := uow.Entries().AppendStatusChange(ctx, models.EntryStatusChange{
			ID: uuid.New(), EntryID: reversal.ID, From: "", To: models.EntryCompleted,
			Actor: actor, Notes: "reversal created", ChangedAt: now,
		}); err != nil {
			return err
		}

		original.Status = models.EntryReversed
		original.UpdatedAt = now
		if err := uow.Entries().Update(ctx, original); err != nil {
			return fmt.Errorf("%w: marking original reversed: %w", models.ErrProcessing, err)
		}
		return uow.Entries().AppendStatusChange(ctx, models.EntryStatusChange{
			ID: uuid.New(), EntryID: original.ID, From: models.EntryCompleted,
			To: models.EntryReversed, Actor: actor, Notes: reason, ChangedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func opposite(d models.Direction) models.Direction {
	if d == models.DirectionCredit {
		return models.DirectionDebit
	}
	return models.DirectionCredit
}

// =============================================================================
// BATCH
// =============================================================================

// BatchItem is the outcome of one entry in a non-atomic batch.
type BatchItem struct {
	Entry *models.LedgerEntry
	Err   error
}

// CreateBatch submits multiple entries.
//
// asUnit=true: every entry is validated before any is persisted; then all
// are persisted and applied inside one unit (all-or-nothing).
//
// asUnit=false: each entry is processed independently; per-item failures
// are collected, and the call fails only if zero entries succeeded.
func (s *Service) CreateBatch(ctx context.Context, drafts []*models.LedgerEntry, asUnit bool) ([]BatchItem, error) {
	if len(drafts) == 0 {
		return nil, models.Invalid("entries", "batch is empty")
	}

	if asUnit {
		for _, d := range drafts {
			if err := s.normalize(d); err != nil {
				return nil, err
			}
		}
		err := s.store.WithTx(ctx, func(uow models.UnitOfWork) error {
			// Pre-validate everything before persisting anything.
			for _, d := range drafts {
				if err := s.registry.Resolve(d).Validate(ctx, uow, d); err != nil {
					return err
				}
			}
			for _, d := range drafts {
				if err := s.createInUnit(ctx, uow, d, true); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		items := make([]BatchItem, len(drafts))
		for i, d := range drafts {
			items[i] = BatchItem{Entry: d}
		}
		return items, nil
	}

	items := make([]BatchItem, len(drafts))
	succeeded := 0
	for i, d := range drafts {
		e, err := s.Create(ctx, d, true)
		items[i] = BatchItem{Entry: e, Err: err}
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		return items, fmt.Errorf("%w: no entry in batch succeeded", models.ErrProcessing)
	}
	return items, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns an entry by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return s.getEntry(ctx, s.store, id)
}

// ListByMember returns a member's recent entries.
func (s *Service) ListByMember(ctx context.Context, memberID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	return s.store.Entries().ListByMember(ctx, memberID, limit)
}

// StatusHistory returns an entry's append-only status log.
func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]models.EntryStatusChange, error) {
	return s.store.Entries().StatusHistory(ctx, id)
}

func (s *Service) getEntry(ctx context.Context, uow models.UnitOfWork, id uuid.UUID) (*models.LedgerEntry, error) {
	e, err := uow.Entries().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &models.NotFoundError{Entity: "ledger entry", ID: id.String()}
	}
	return e, nil
}
