/*
uploads.go - Bulk upload audit record persistence

PURPOSE:
  The audit record every bulk upload leaves behind. Failed rows are
  stored as a JSON array; the record itself is never deleted.
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

type uploadStore struct {
	q querier
}

const uploadColumns = `id, file_name, uploaded_by, status, total_rows,
	success_rows, failed_rows_json, error, created_at, completed_at`

func (s *uploadStore) Create(ctx context.Context, u *models.BulkRepaymentUpload) error {
	failed, err := encodeFailedRows(u.FailedRows)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO bulk_uploads (`+uploadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.FileName, u.UploadedBy, string(u.Status),
		u.TotalRows, u.SuccessRows, failed, u.Error,
		fmtTime(u.CreatedAt), nullTime(u.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}
	return nil
}

func (s *uploadStore) Get(ctx context.Context, id uuid.UUID) (*models.BulkRepaymentUpload, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+uploadColumns+` FROM bulk_uploads WHERE id = ?`, id.String())
	u, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *uploadStore) Update(ctx context.Context, u *models.BulkRepaymentUpload) error {
	failed, err := encodeFailedRows(u.FailedRows)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE bulk_uploads SET
			status = ?, total_rows = ?, success_rows = ?,
			failed_rows_json = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		string(u.Status), u.TotalRows, u.SuccessRows, failed, u.Error,
		nullTime(u.CompletedAt), u.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update upload: %w", err)
	}
	return nil
}

func (s *uploadStore) List(ctx context.Context, limit int) ([]*models.BulkRepaymentUpload, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+uploadColumns+` FROM bulk_uploads
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BulkRepaymentUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUpload(row rowScanner) (*models.BulkRepaymentUpload, error) {
	var (
		u                 models.BulkRepaymentUpload
		id, status        string
		failed, completed sql.NullString
		created           string
	)
	err := row.Scan(&id, &u.FileName, &u.UploadedBy, &status, &u.TotalRows,
		&u.SuccessRows, &failed, &u.Error, &created, &completed)
	if err != nil {
		return nil, err
	}
	u.ID, _ = uuid.Parse(id)
	u.Status = models.UploadStatus(status)
	u.CreatedAt = parseTime(created)
	u.CompletedAt = timePtr(completed)
	if failed.Valid && failed.String != "" {
		if err := json.Unmarshal([]byte(failed.String), &u.FailedRows); err != nil {
			return nil, fmt.Errorf("failed to decode failed rows: %w", err)
		}
	}
	return &u, nil
}

func encodeFailedRows(rows []models.FailedRow) (sql.NullString, error) {
	if len(rows) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode failed rows: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
