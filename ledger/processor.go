/*
Package ledger implements the transaction engine: entry validation, the
processor registry, and the transaction service that owns the atomicity
boundary for every balance change in the system.

processor.go - Processor contract and kind/domain registry

PURPOSE:
  A processor applies the domain-specific effect of a ledger entry. The
  savings processor moves savings balances, the shares processor moves
  holding values, the loan processor moves loan totals and schedules. The
  registry maps an entry to its processor: first by kind, then by domain,
  finally falling back to the admin processor.

PROCESSOR CONTRACT:
  Validate:       May reject an entry before anything is persisted.
  Apply:          The ONLY code path allowed to mutate the balance field of
                  its owned entity. Must write the post-mutation balance
                  into the entry's BalanceAfter. Runs inside the same
                  atomic unit as the entry persist, so sufficiency reads
                  here cannot race a concurrent write.
  OnStatusChange: Hook invoked when an entry completes via Transition.
  Reverse:        Optional capability (Reverser). Inverts the specific
                  effect of a completed entry.

FALLBACK:
  An entry whose kind and domain have no registered processor is handled by
  the admin processor. That is anomalous wiring, not a business case, so
  every fallback is logged and counted.

SEE ALSO:
  - service.go: Orchestrates processors inside atomic units
  - savings.go, shares.go, admin.go: In-package processors
  - loan/processor.go: The loan-domain processor
*/
package ledger

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/coopfin/ledger-engine/models"
)

// Processor applies domain-specific entry effects.
type Processor interface {
	// Validate checks domain rules before any mutation. Called inside the
	// same atomic unit that will persist the entry.
	Validate(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error

	// Apply mutates the owned entity's balance and writes BalanceAfter.
	Apply(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry) error

	// OnStatusChange is invoked after an entry completes via a status
	// transition, inside the same unit as the apply.
	OnStatusChange(ctx context.Context, uow models.UnitOfWork, e *models.LedgerEntry, prev models.EntryStatus) error
}

// Reverser is the optional reversal capability. A reversal entry for an
// original whose processor does not implement Reverser is rejected.
type Reverser interface {
	// Reverse applies the inverse effect of original and writes the
	// post-reversal balance into reversal.BalanceAfter.
	Reverse(ctx context.Context, uow models.UnitOfWork, reversal, original *models.LedgerEntry) error
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry resolves processors by kind, then domain, then admin default.
type Registry struct {
	byKind   map[models.EntryKind]Processor
	byDomain map[models.Domain]Processor
	admin    Processor

	// fallbacks counts anomalous resolutions to the admin default.
	fallbacks atomic.Int64
}

// NewRegistry creates a registry with the given admin default processor.
func NewRegistry(admin Processor) *Registry {
	return &Registry{
		byKind:   make(map[models.EntryKind]Processor),
		byDomain: make(map[models.Domain]Processor),
		admin:    admin,
	}
}

// RegisterKind binds a processor to a specific entry kind.
func (r *Registry) RegisterKind(kind models.EntryKind, p Processor) {
	r.byKind[kind] = p
}

// RegisterDomain binds a processor to every kind in a domain that has no
// kind-specific binding.
func (r *Registry) RegisterDomain(domain models.Domain, p Processor) {
	r.byDomain[domain] = p
}

// Resolve returns the processor for an entry.
func (r *Registry) Resolve(e *models.LedgerEntry) Processor {
	if p, ok := r.byKind[e.Kind]; ok {
		return p
	}
	if p, ok := r.byDomain[e.Domain]; ok {
		return p
	}
	n := r.fallbacks.Add(1)
	log.Printf("ledger: no processor for kind=%s domain=%s, falling back to admin (count=%d)",
		e.Kind, e.Domain, n)
	return r.admin
}

// FallbackCount returns how many entries resolved to the admin default.
func (r *Registry) FallbackCount() int64 { return r.fallbacks.Load() }
