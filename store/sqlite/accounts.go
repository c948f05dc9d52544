/*
accounts.go - Member, savings, share, and loan-type persistence

PURPOSE:
  The account-side entities the processors act on, plus loan-type
  reference data. One savings account and one share holding per member,
  enforced by UNIQUE(member_id).
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coopfin/ledger-engine/models"
)

// =============================================================================
// MEMBERS
// =============================================================================

type memberStore struct {
	q querier
}

func (s *memberStore) Create(ctx context.Context, m *models.Member) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO members (id, erp_id, name, active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), m.ERPID, m.Name, m.Active, fmtTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (s *memberStore) Get(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	return s.get(ctx, `SELECT id, erp_id, name, active, created_at FROM members WHERE id = ?`, id.String())
}

func (s *memberStore) GetByERPID(ctx context.Context, erpID string) (*models.Member, error) {
	return s.get(ctx, `SELECT id, erp_id, name, active, created_at FROM members WHERE erp_id = ?`, erpID)
}

func (s *memberStore) get(ctx context.Context, query, arg string) (*models.Member, error) {
	var (
		m       models.Member
		id      string
		created string
	)
	err := s.q.QueryRowContext(ctx, query, arg).Scan(&id, &m.ERPID, &m.Name, &m.Active, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.ID, _ = uuid.Parse(id)
	m.CreatedAt = parseTime(created)
	return &m, nil
}

// =============================================================================
// SAVINGS ACCOUNTS
// =============================================================================

type savingsStore struct {
	q querier
}

func (s *savingsStore) Create(ctx context.Context, a *models.SavingsAccount) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO savings_accounts (id, member_id, balance, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.MemberID.String(), a.Balance.String(), string(a.Status),
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert savings account: %w", err)
	}
	return nil
}

func (s *savingsStore) Get(ctx context.Context, id uuid.UUID) (*models.SavingsAccount, error) {
	return s.get(ctx, `WHERE id = ?`, id.String())
}

func (s *savingsStore) GetByMember(ctx context.Context, memberID uuid.UUID) (*models.SavingsAccount, error) {
	return s.get(ctx, `WHERE member_id = ?`, memberID.String())
}

func (s *savingsStore) get(ctx context.Context, where, arg string) (*models.SavingsAccount, error) {
	var (
		a                    models.SavingsAccount
		id, memberID         string
		balance, status      string
		createdAt, updatedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, member_id, balance, status, created_at, updated_at
		FROM savings_accounts `+where, arg).
		Scan(&id, &memberID, &balance, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.ID, _ = uuid.Parse(id)
	a.MemberID, _ = uuid.Parse(memberID)
	a.Balance = scanMoney(balance)
	a.Status = models.AccountStatus(status)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *savingsStore) Update(ctx context.Context, a *models.SavingsAccount) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE savings_accounts SET balance = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		a.Balance.String(), string(a.Status), fmtTime(a.UpdatedAt), a.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update savings account: %w", err)
	}
	return nil
}

// =============================================================================
// SHARE HOLDINGS
// =============================================================================

type sharesStore struct {
	q querier
}

func (s *sharesStore) Create(ctx context.Context, h *models.ShareHolding) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO share_holdings (id, member_id, units, unit_price, total_value, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID.String(), h.MemberID.String(), h.Units.String(), h.UnitPrice.String(),
		h.TotalValue.String(), string(h.Status), fmtTime(h.CreatedAt), fmtTime(h.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert share holding: %w", err)
	}
	return nil
}

func (s *sharesStore) Get(ctx context.Context, id uuid.UUID) (*models.ShareHolding, error) {
	return s.get(ctx, `WHERE id = ?`, id.String())
}

func (s *sharesStore) GetByMember(ctx context.Context, memberID uuid.UUID) (*models.ShareHolding, error) {
	return s.get(ctx, `WHERE member_id = ?`, memberID.String())
}

func (s *sharesStore) get(ctx context.Context, where, arg string) (*models.ShareHolding, error) {
	var (
		h                    models.ShareHolding
		id, memberID         string
		units, price, total  string
		status               string
		createdAt, updatedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, member_id, units, unit_price, total_value, status, created_at, updated_at
		FROM share_holdings `+where, arg).
		Scan(&id, &memberID, &units, &price, &total, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.ID, _ = uuid.Parse(id)
	h.MemberID, _ = uuid.Parse(memberID)
	h.Units, _ = decimal.NewFromString(units)
	h.UnitPrice = scanMoney(price)
	h.TotalValue = scanMoney(total)
	h.Status = models.AccountStatus(status)
	h.CreatedAt = parseTime(createdAt)
	h.UpdatedAt = parseTime(updatedAt)
	return &h, nil
}

func (s *sharesStore) Update(ctx context.Context, h *models.ShareHolding) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE share_holdings SET units = ?, unit_price = ?, total_value = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		h.Units.String(), h.UnitPrice.String(), h.TotalValue.String(),
		string(h.Status), fmtTime(h.UpdatedAt), h.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update share holding: %w", err)
	}
	return nil
}

// =============================================================================
// LOAN TYPES
// =============================================================================

type loanTypeStore struct {
	q querier
}

func (s *loanTypeStore) Create(ctx context.Context, lt *models.LoanType) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loan_types (id, name, interest_rate, min_duration, max_duration, max_amount, savings_multiplier, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lt.ID.String(), lt.Name, lt.InterestRate.String(), lt.MinDuration,
		lt.MaxDuration, lt.MaxAmount.String(), lt.SavingsMultiplier.String(), lt.Active)
	if err != nil {
		return fmt.Errorf("failed to insert loan type: %w", err)
	}
	return nil
}

func (s *loanTypeStore) Get(ctx context.Context, id uuid.UUID) (*models.LoanType, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, interest_rate, min_duration, max_duration, max_amount, savings_multiplier, active
		FROM loan_types WHERE id = ?`, id.String())
	lt, err := scanLoanType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return lt, err
}

func (s *loanTypeStore) List(ctx context.Context) ([]*models.LoanType, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, interest_rate, min_duration, max_duration, max_amount, savings_multiplier, active
		FROM loan_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LoanType
	for rows.Next() {
		lt, err := scanLoanType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func scanLoanType(row rowScanner) (*models.LoanType, error) {
	var (
		lt               models.LoanType
		id, rate         string
		maxAmount, multi string
	)
	err := row.Scan(&id, &lt.Name, &rate, &lt.MinDuration, &lt.MaxDuration,
		&maxAmount, &multi, &lt.Active)
	if err != nil {
		return nil, err
	}
	lt.ID, _ = uuid.Parse(id)
	lt.InterestRate, _ = decimal.NewFromString(rate)
	lt.MaxAmount = scanMoney(maxAmount)
	lt.SavingsMultiplier, _ = decimal.NewFromString(multi)
	return &lt, nil
}
