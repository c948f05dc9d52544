/*
accounts.go - Members and the balance-carrying accounts they own

PURPOSE:
  SavingsAccount and ShareHolding are the two non-loan balance carriers.
  Their balance fields are mutated only by ledger processors applying
  entries; nothing else writes them.
*/
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coopfin/ledger-engine/money"
)

// Member is a cooperative member. ERPID is the identifier external systems
// (and bulk uploads) use to reference the member.
type Member struct {
	ID        uuid.UUID
	ERPID     string
	Name      string
	Active    bool
	CreatedAt time.Time
}

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

// SavingsAccount carries a member's savings balance.
type SavingsAccount struct {
	ID        uuid.UUID
	MemberID  uuid.UUID
	Balance   money.Money
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShareHolding carries a member's share position. TotalValue is the
// balance-like field entries act on; Units tracks the share count.
type ShareHolding struct {
	ID         uuid.UUID
	MemberID   uuid.UUID
	Units      decimal.Decimal
	UnitPrice  money.Money
	TotalValue money.Money
	Status     AccountStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
