/*
upload.go - Bulk repayment upload audit record

PURPOSE:
  Every bulk upload produces an audit record that owns the provenance of
  the repayments it posted. The record is created (PROCESSING) before the
  file is parsed, so even a parse failure leaves an auditable trail.
*/
package models

import (
	"time"

	"github.com/google/uuid"
)

type UploadStatus string

const (
	UploadProcessing         UploadStatus = "PROCESSING"
	UploadCompleted          UploadStatus = "COMPLETED"
	UploadPartiallyCompleted UploadStatus = "PARTIALLY_COMPLETED"
	UploadFailed             UploadStatus = "FAILED"
)

// FailedRow records one rejected upload row with its reason.
type FailedRow struct {
	RowNumber int    `json:"row_number"`
	MemberRef string `json:"member_ref"`
	Reason    string `json:"reason"`
}

// BulkRepaymentUpload is the batch audit record. Append-only: counts and
// status are finalized once, failed rows are only ever added.
type BulkRepaymentUpload struct {
	ID         uuid.UUID
	FileName   string
	UploadedBy string

	Status UploadStatus

	TotalRows   int
	SuccessRows int
	FailedRows  []FailedRow

	Error       string // set when the whole upload failed (e.g. parse error)
	CreatedAt   time.Time
	CompletedAt *time.Time
}
