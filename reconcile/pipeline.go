/*
pipeline.go - Bulk repayment reconciliation

PURPOSE:
  Drives an uploaded repayment file end to end: audit record first, then
  parse, structural validation, loan-type matching, and per-member
  posting against each member's oldest active loan of the matched type.

ATOMICITY:
  The unit of atomicity is PER MEMBER. One member's rows post or roll
  back together; one member's failure never touches another member's
  postings. Expected rejections (unmatched type, no active loan,
  overpayment, duplicate period) fail the row and keep the member's unit
  open; an unexpected error rolls the whole member back and fails all of
  that member's rows.

SEE ALSO:
  parse.go for the row contract, match.go for type matching,
  loan/repayment.go for what a single posting does.
*/
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/loan"
	"github.com/coopfin/ledger-engine/models"
)

// Source tag carried by every repayment this pipeline posts.
const Source = "BULK_UPLOAD"

// Pipeline reconciles uploaded repayment files.
type Pipeline struct {
	store      models.Store
	repayments *loan.RepaymentService
	reader     RowReader
	aliases    map[string]string
}

func NewPipeline(store models.Store, repayments *loan.RepaymentService, reader RowReader) *Pipeline {
	return &Pipeline{store: store, repayments: repayments, reader: reader}
}

// WithAliases replaces the default loan-type alias table.
func (p *Pipeline) WithAliases(aliases map[string]string) *Pipeline {
	p.aliases = aliases
	return p
}

// Process runs one upload. The audit record is created before parsing, so
// the returned record exists even when the file itself is unreadable; in
// that case the record is FAILED and the parse error is also returned.
func (p *Pipeline) Process(ctx context.Context, fileName string, data []byte, uploadedBy string) (*models.BulkRepaymentUpload, error) {
	upload := &models.BulkRepaymentUpload{
		ID:         uuid.New(),
		FileName:   fileName,
		UploadedBy: uploadedBy,
		Status:     models.UploadProcessing,
		CreatedAt:  models.Now(),
	}
	if err := p.store.Uploads().Create(ctx, upload); err != nil {
		return nil, err
	}

	raws, err := p.reader.Read(data)
	if err != nil {
		p.finalize(ctx, upload, 0, 0, nil, err.Error())
		return upload, err
	}

	types, err := p.store.LoanTypes().List(ctx)
	if err != nil {
		p.finalize(ctx, upload, len(raws), 0, nil, err.Error())
		return upload, err
	}
	matcher := NewMatcher(types, p.aliases)

	var failed []models.FailedRow
	rows := make([]Row, 0, len(raws))
	currentYear := models.Now().Year()
	for _, raw := range raws {
		row, err := ValidateRow(raw, currentYear)
		if err != nil {
			failed = append(failed, models.FailedRow{
				RowNumber: raw.Number, MemberRef: raw.MemberRef, Reason: err.Error(),
			})
			continue
		}
		rows = append(rows, row)
	}

	success := 0
	for _, group := range groupByMember(rows) {
		ok, bad := p.processMember(ctx, matcher, group, upload.ID, uploadedBy)
		success += ok
		failed = append(failed, bad...)
	}

	p.finalize(ctx, upload, len(raws), success, failed, "")
	return upload, nil
}

// =============================================================================
// PER-MEMBER UNIT
// =============================================================================

// processMember posts one member's rows inside one atomic unit. Returns
// the success count and the failed rows; on an unexpected error the unit
// rolls back and every row of the group is failed.
func (p *Pipeline) processMember(ctx context.Context, matcher *Matcher, group []Row, uploadID uuid.UUID, uploadedBy string) (int, []models.FailedRow) {
	var (
		success int
		failed  []models.FailedRow
	)
	err := p.store.WithTx(ctx, func(uow models.UnitOfWork) error {
		member, err := uow.Members().GetByERPID(ctx, group[0].MemberRef)
		if err != nil {
			return err
		}
		if member == nil {
			for _, row := range group {
				failed = append(failed, rejected(row, "member %q not found", row.MemberRef))
			}
			return nil
		}

		// Loaded once per member; rows post against these in-memory loans
		// so earlier rows' balance changes gate later rows.
		loans, err := uow.Loans().ListActiveByMember(ctx, member.ID)
		if err != nil {
			return err
		}
		sort.Slice(loans, func(i, j int) bool { return loans[i].CreatedAt.Before(loans[j].CreatedAt) })

		for _, row := range group {
			lt := matcher.Match(row.Description)
			if lt == nil {
				failed = append(failed, rejected(row, "loan type %q not found", row.Description))
				continue
			}
			l := oldestOfType(loans, lt.ID)
			if l == nil {
				failed = append(failed, rejected(row, "no active %s for member", lt.Name))
				continue
			}

			// Expected rejections are checked before any mutation so a bad
			// row never poisons the member's unit. The balance guard admits
			// the schedule's rounding residue, same as the allocator, so a
			// row carrying the published final installment posts.
			plan, err := uow.Schedules().ListByLoan(ctx, l.ID)
			if err != nil {
				return err
			}
			if row.Amount.GreaterThan(l.RemainingBalance.Add(loan.RoundingResidue(l, plan))) {
				failed = append(failed, rejected(row, "amount %s exceeds remaining balance %s",
					row.Amount.StringFixed(), l.RemainingBalance.StringFixed()))
				continue
			}
			dup, err := uow.Repayments().ExistsForPeriod(ctx, l.ID, row.Month, row.Year)
			if err != nil {
				return err
			}
			if dup {
				failed = append(failed, rejected(row, "repayment for %d/%d already posted", row.Month, row.Year))
				continue
			}

			if _, err := p.repayments.ApplyInUnit(ctx, uow, l, row.Amount, row.Month, row.Year, Source, uploadID, uploadedBy); err != nil {
				return err
			}
			// The processor wrote the loan inside the unit; refresh the
			// in-memory copy so later rows pre-check against the new balance.
			fresh, err := uow.Loans().Get(ctx, l.ID)
			if err != nil {
				return err
			}
			if fresh != nil {
				*l = *fresh
			}
			success++
		}
		return nil
	})
	if err != nil {
		// The unit rolled back: nothing this member seemed to post survived.
		failed = failed[:0]
		success = 0
		for _, row := range group {
			failed = append(failed, rejected(row, "processing error: %v", err))
		}
	}
	return success, failed
}

// =============================================================================
// HELPERS
// =============================================================================

// groupByMember buckets rows per member reference, preserving both the
// first-appearance order of members and the row order within a member.
func groupByMember(rows []Row) [][]Row {
	index := make(map[string]int)
	var groups [][]Row
	for _, row := range rows {
		i, ok := index[row.MemberRef]
		if !ok {
			i = len(groups)
			index[row.MemberRef] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups
}

func oldestOfType(loans []*models.Loan, typeID uuid.UUID) *models.Loan {
	for _, l := range loans {
		if l.LoanTypeID == typeID && !l.IsSettled() {
			return l
		}
	}
	return nil
}

func rejected(row Row, format string, args ...any) models.FailedRow {
	return models.FailedRow{
		RowNumber: row.Number,
		MemberRef: row.MemberRef,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// finalize stamps the audit record with counts and the terminal status.
func (p *Pipeline) finalize(ctx context.Context, upload *models.BulkRepaymentUpload, total, success int, failed []models.FailedRow, fatal string) {
	now := models.Now()
	upload.TotalRows = total
	upload.SuccessRows = success
	upload.FailedRows = failed
	upload.Error = fatal
	upload.CompletedAt = &now

	switch {
	case fatal != "":
		upload.Status = models.UploadFailed
	case len(failed) == 0:
		upload.Status = models.UploadCompleted
	case success > 0:
		upload.Status = models.UploadPartiallyCompleted
	default:
		upload.Status = models.UploadFailed
	}
	if err := p.store.Uploads().Update(ctx, upload); err != nil {
		// The postings themselves are already committed; the record stays
		// PROCESSING and shows up on the stuck-uploads report.
		log.Printf("reconcile: failed to finalize upload %s: %v", upload.ID, err)
	}
}
