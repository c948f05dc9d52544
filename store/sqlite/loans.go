/*
loans.go - Loan, schedule, repayment, and approval persistence

PURPOSE:
  The loan aggregate: the loan row itself, its insert-only status history,
  the amortization schedule rows, the immutable repayment records, and the
  approval ladder steps.

  idx_repayments_period makes duplicate-period detection hold even if two
  units race past the service check; the violation maps to
  ErrDuplicateRepayment.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/models"
)

// =============================================================================
// LOANS
// =============================================================================

type loanStore struct {
	q querier
}

const loanColumns = `id, member_id, loan_type_id, principal_amount, interest_amount,
	total_amount, paid_amount, remaining_balance, tenure, status,
	next_approval_level, purpose, created_at, updated_at`

func (s *loanStore) Create(ctx context.Context, l *models.Loan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.MemberID.String(), l.LoanTypeID.String(),
		l.PrincipalAmount.String(), l.InterestAmount.String(), l.TotalAmount.String(),
		l.PaidAmount.String(), l.RemainingBalance.String(), l.Tenure,
		string(l.Status), int(l.NextApprovalLevel), l.Purpose,
		fmtTime(l.CreatedAt), fmtTime(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	return nil
}

func (s *loanStore) Get(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	l, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *loanStore) Update(ctx context.Context, l *models.Loan) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE loans SET
			interest_amount = ?, total_amount = ?, paid_amount = ?,
			remaining_balance = ?, status = ?, next_approval_level = ?,
			updated_at = ?
		WHERE id = ?`,
		l.InterestAmount.String(), l.TotalAmount.String(), l.PaidAmount.String(),
		l.RemainingBalance.String(), string(l.Status), int(l.NextApprovalLevel),
		fmtTime(l.UpdatedAt), l.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return nil
}

func (s *loanStore) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE member_id = ? ORDER BY created_at`, memberID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLoans(rows)
}

func (s *loanStore) ListActiveByMember(ctx context.Context, memberID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE member_id = ? AND status IN (?, ?, ?)
		ORDER BY created_at`,
		memberID.String(),
		string(models.LoanDisbursed), string(models.LoanActive), string(models.LoanDefaulted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLoans(rows)
}

func (s *loanStore) AppendStatusChange(ctx context.Context, c models.LoanStatusChange) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loan_status_history (id, loan_id, from_status, to_status, actor, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.LoanID.String(), string(c.From), string(c.To),
		c.Actor, c.Reason, fmtTime(c.ChangedAt))
	if err != nil {
		return fmt.Errorf("failed to append loan status change: %w", err)
	}
	return nil
}

func (s *loanStore) StatusHistory(ctx context.Context, loanID uuid.UUID) ([]models.LoanStatusChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, loan_id, from_status, to_status, actor, reason, changed_at
		FROM loan_status_history WHERE loan_id = ? ORDER BY changed_at`,
		loanID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LoanStatusChange
	for rows.Next() {
		var (
			c                  models.LoanStatusChange
			id, loan, from, to string
			changed            string
		)
		if err := rows.Scan(&id, &loan, &from, &to, &c.Actor, &c.Reason, &changed); err != nil {
			return nil, err
		}
		c.ID, _ = uuid.Parse(id)
		c.LoanID, _ = uuid.Parse(loan)
		c.From = models.LoanStatus(from)
		c.To = models.LoanStatus(to)
		c.ChangedAt = parseTime(changed)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var (
		l                          models.Loan
		id, memberID, typeID       string
		principal, interest, total string
		paid, remaining, status    string
		level                      int
		createdAt, updatedAt       string
	)
	err := row.Scan(&id, &memberID, &typeID, &principal, &interest, &total,
		&paid, &remaining, &l.Tenure, &status, &level, &l.Purpose,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	l.ID, _ = uuid.Parse(id)
	l.MemberID, _ = uuid.Parse(memberID)
	l.LoanTypeID, _ = uuid.Parse(typeID)
	l.PrincipalAmount = scanMoney(principal)
	l.InterestAmount = scanMoney(interest)
	l.TotalAmount = scanMoney(total)
	l.PaidAmount = scanMoney(paid)
	l.RemainingBalance = scanMoney(remaining)
	l.Status = models.LoanStatus(status)
	l.NextApprovalLevel = models.ApprovalLevel(level)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var out []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// SCHEDULES
// =============================================================================

type scheduleStore struct {
	q querier
}

const scheduleColumns = `id, loan_id, sequence, due_date, principal_portion,
	interest_portion, expected_amount, paid_amount, remaining_balance, status`

func (s *scheduleStore) CreateBatch(ctx context.Context, rows []*models.LoanSchedule) error {
	for _, r := range rows {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO loan_schedules (`+scheduleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), r.LoanID.String(), r.Sequence, fmtTime(r.DueDate),
			r.PrincipalPortion.String(), r.InterestPortion.String(),
			r.ExpectedAmount.String(), r.PaidAmount.String(),
			r.RemainingBalance.String(), string(r.Status))
		if err != nil {
			return fmt.Errorf("failed to insert schedule row %d: %w", r.Sequence, err)
		}
	}
	return nil
}

func (s *scheduleStore) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanSchedule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM loan_schedules
		WHERE loan_id = ? ORDER BY due_date, sequence`, loanID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LoanSchedule
	for rows.Next() {
		var (
			r                           models.LoanSchedule
			id, loan, due               string
			principal, interest         string
			expected, paid, rem, status string
		)
		if err := rows.Scan(&id, &loan, &r.Sequence, &due, &principal,
			&interest, &expected, &paid, &rem, &status); err != nil {
			return nil, err
		}
		r.ID, _ = uuid.Parse(id)
		r.LoanID, _ = uuid.Parse(loan)
		r.DueDate = parseTime(due)
		r.PrincipalPortion = scanMoney(principal)
		r.InterestPortion = scanMoney(interest)
		r.ExpectedAmount = scanMoney(expected)
		r.PaidAmount = scanMoney(paid)
		r.RemainingBalance = scanMoney(rem)
		r.Status = models.ScheduleStatus(status)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *scheduleStore) Update(ctx context.Context, r *models.LoanSchedule) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE loan_schedules SET paid_amount = ?, remaining_balance = ?, status = ?
		WHERE id = ?`,
		r.PaidAmount.String(), r.RemainingBalance.String(), string(r.Status),
		r.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// =============================================================================
// REPAYMENTS
// =============================================================================

type repaymentStore struct {
	q querier
}

func (s *repaymentStore) Create(ctx context.Context, r *models.LoanRepayment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loan_repayments
			(id, loan_id, schedule_id, entry_id, amount, month, year, source, upload_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.LoanID.String(), nullUUID(r.ScheduleID), r.EntryID.String(),
		r.Amount.String(), r.Month, r.Year, r.Source, nullUUID(r.UploadID),
		fmtTime(r.CreatedAt))
	if isUniqueConstraint(err, "loan_repayments.loan_id") {
		return &models.DuplicateRepaymentError{LoanID: r.LoanID.String(), Month: r.Month, Year: r.Year}
	}
	if err != nil {
		return fmt.Errorf("failed to insert repayment: %w", err)
	}
	return nil
}

func (s *repaymentStore) ExistsForPeriod(ctx context.Context, loanID uuid.UUID, month, year int) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM loan_repayments
		WHERE loan_id = ? AND month = ? AND year = ?`,
		loanID.String(), month, year).Scan(&n)
	return n > 0, err
}

func (s *repaymentStore) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanRepayment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, loan_id, schedule_id, entry_id, amount, month, year, source, upload_id, created_at
		FROM loan_repayments WHERE loan_id = ? ORDER BY year, month`, loanID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LoanRepayment
	for rows.Next() {
		var (
			r                models.LoanRepayment
			id, loan, entry  string
			schedule, upload sql.NullString
			amount, created  string
		)
		if err := rows.Scan(&id, &loan, &schedule, &entry, &amount,
			&r.Month, &r.Year, &r.Source, &upload, &created); err != nil {
			return nil, err
		}
		r.ID, _ = uuid.Parse(id)
		r.LoanID, _ = uuid.Parse(loan)
		r.ScheduleID = uuidPtr(schedule)
		r.EntryID, _ = uuid.Parse(entry)
		r.Amount = scanMoney(amount)
		r.UploadID = uuidPtr(upload)
		r.CreatedAt = parseTime(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *repaymentStore) CountByLoan(ctx context.Context, loanID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM loan_repayments WHERE loan_id = ?`,
		loanID.String()).Scan(&n)
	return n, err
}

// =============================================================================
// APPROVAL STEPS
// =============================================================================

type approvalStore struct {
	q querier
}

func (s *approvalStore) Create(ctx context.Context, step *models.ApprovalStep) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO approval_steps (id, loan_id, level, status, actor, notes, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID.String(), step.LoanID.String(), int(step.Level), step.Status,
		step.Actor, step.Notes, fmtTime(step.CreatedAt), nullTime(step.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to insert approval step: %w", err)
	}
	return nil
}

func (s *approvalStore) Pending(ctx context.Context, loanID uuid.UUID) (*models.ApprovalStep, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, loan_id, level, status, actor, notes, created_at, resolved_at
		FROM approval_steps WHERE loan_id = ? AND status = ?`,
		loanID.String(), models.StepPending)
	step, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return step, err
}

func (s *approvalStore) Update(ctx context.Context, step *models.ApprovalStep) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE approval_steps SET status = ?, actor = ?, notes = ?, resolved_at = ?
		WHERE id = ?`,
		step.Status, step.Actor, step.Notes, nullTime(step.ResolvedAt),
		step.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update approval step: %w", err)
	}
	return nil
}

func (s *approvalStore) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.ApprovalStep, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, loan_id, level, status, actor, notes, created_at, resolved_at
		FROM approval_steps WHERE loan_id = ? ORDER BY level`, loanID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ApprovalStep
	for rows.Next() {
		step, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (*models.ApprovalStep, error) {
	var (
		step     models.ApprovalStep
		id, loan string
		level    int
		created  string
		resolved sql.NullString
	)
	err := row.Scan(&id, &loan, &level, &step.Status, &step.Actor, &step.Notes,
		&created, &resolved)
	if err != nil {
		return nil, err
	}
	step.ID, _ = uuid.Parse(id)
	step.LoanID, _ = uuid.Parse(loan)
	step.Level = models.ApprovalLevel(level)
	step.CreatedAt = parseTime(created)
	step.ResolvedAt = timePtr(resolved)
	return &step, nil
}
