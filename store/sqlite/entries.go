/*
entries.go - Ledger entry persistence

PURPOSE:
  Inserts, reads, and the narrow status update for ledger entries, plus
  the insert-only status history. Metadata is stored as kind-tagged JSON;
  the kind column decides which variant to decode.

  The one-reversal-per-entry unique index backstops the service-level
  HasReversal check: a race that creates two reversals for the same
  parent surfaces here as ErrAlreadyReversed.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/models"
)

type entryStore struct {
	q querier
}

const entryColumns = `id, kind, direction, domain, amount, balance_after, status,
	member_id, loan_id, savings_id, shares_id, parent_entry_id, request_id,
	metadata_json, description, created_by, created_at, updated_at`

func (s *entryStore) Create(ctx context.Context, e *models.LedgerEntry) error {
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), string(e.Kind), string(e.Direction), string(e.Domain),
		e.Amount.String(), e.BalanceAfter.String(), string(e.Status),
		e.MemberID.String(), nullUUID(e.LoanID), nullUUID(e.SavingsID),
		nullUUID(e.SharesID), nullUUID(e.ParentEntryID), nullUUID(e.RequestID),
		meta, e.Description, e.CreatedBy, fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if isUniqueConstraint(err, "entries.parent_entry_id") {
		return models.ErrAlreadyReversed
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *entryStore) Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries WHERE id = ?`, id.String())
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// Update persists status, balance_after, and updated_at only. Everything
// else on a stored entry is immutable.
func (s *entryStore) Update(ctx context.Context, e *models.LedgerEntry) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE entries SET status = ?, balance_after = ?, updated_at = ?
		WHERE id = ?`,
		string(e.Status), e.BalanceAfter.String(), fmtTime(e.UpdatedAt), e.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return nil
}

func (s *entryStore) HasReversal(ctx context.Context, parentID uuid.UUID) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entries WHERE parent_entry_id = ?`,
		parentID.String()).Scan(&n)
	return n > 0, err
}

func (s *entryStore) ListByMember(ctx context.Context, memberID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE member_id = ? ORDER BY created_at DESC LIMIT ?`,
		memberID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *entryStore) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE loan_id = ? ORDER BY created_at`, loanID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *entryStore) AppendStatusChange(ctx context.Context, c models.EntryStatusChange) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entry_status_history (id, entry_id, from_status, to_status, actor, notes, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.EntryID.String(), string(c.From), string(c.To),
		c.Actor, c.Notes, fmtTime(c.ChangedAt))
	if err != nil {
		return fmt.Errorf("failed to append entry status change: %w", err)
	}
	return nil
}

func (s *entryStore) StatusHistory(ctx context.Context, entryID uuid.UUID) ([]models.EntryStatusChange, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, entry_id, from_status, to_status, actor, notes, changed_at
		FROM entry_status_history WHERE entry_id = ? ORDER BY changed_at`,
		entryID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EntryStatusChange
	for rows.Next() {
		var (
			c                   models.EntryStatusChange
			id, entry, from, to string
			changed             string
		)
		if err := rows.Scan(&id, &entry, &from, &to, &c.Actor, &c.Notes, &changed); err != nil {
			return nil, err
		}
		c.ID, _ = uuid.Parse(id)
		c.EntryID, _ = uuid.Parse(entry)
		c.From = models.EntryStatus(from)
		c.To = models.EntryStatus(to)
		c.ChangedAt = parseTime(changed)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e                       models.LedgerEntry
		id, kind, dir, domain   string
		amount, balance, status string
		memberID                string
		loanID, savingsID       sql.NullString
		sharesID, parentID      sql.NullString
		requestID, meta         sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&id, &kind, &dir, &domain, &amount, &balance, &status,
		&memberID, &loanID, &savingsID, &sharesID, &parentID, &requestID,
		&meta, &e.Description, &e.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.ID, _ = uuid.Parse(id)
	e.Kind = models.EntryKind(kind)
	e.Direction = models.Direction(dir)
	e.Domain = models.Domain(domain)
	e.Amount = scanMoney(amount)
	e.BalanceAfter = scanMoney(balance)
	e.Status = models.EntryStatus(status)
	e.MemberID, _ = uuid.Parse(memberID)
	e.LoanID = uuidPtr(loanID)
	e.SavingsID = uuidPtr(savingsID)
	e.SharesID = uuidPtr(sharesID)
	e.ParentEntryID = uuidPtr(parentID)
	e.RequestID = uuidPtr(requestID)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)

	if meta.Valid && meta.String != "" {
		decoded, err := decodeMetadata(e.Kind, []byte(meta.String))
		if err != nil {
			return nil, err
		}
		e.Metadata = decoded
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// METADATA CODEC
// =============================================================================

func encodeMetadata(m models.EntryMetadata) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// decodeMetadata picks the variant from the entry kind. Kinds without a
// structured variant decode to nil.
func decodeMetadata(kind models.EntryKind, raw []byte) (models.EntryMetadata, error) {
	switch kind {
	case models.KindDisbursement:
		var m models.DisbursementMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.KindRepayment:
		var m models.RepaymentMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.KindAdjustment:
		var m models.AdjustmentMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.KindReversal:
		var m models.ReversalMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, nil
}
