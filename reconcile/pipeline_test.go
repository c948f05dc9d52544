package reconcile_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/ledger-engine/ledger"
	"github.com/coopfin/ledger-engine/loan"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
	"github.com/coopfin/ledger-engine/notify"
	"github.com/coopfin/ledger-engine/reconcile"
	"github.com/coopfin/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type pipelineFixture struct {
	store    *sqlite.Store
	pipeline *reconcile.Pipeline
	year     int

	memberID uuid.UUID
	loanID   uuid.UUID
}

// newPipelineFixture seeds one member (ERP ref COOP/0042) holding an
// active soft loan of 12000 across 6 installments of 2000.
func newPipelineFixture(t *testing.T) *pipelineFixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := ledger.NewRegistry(ledger.NewAdminProcessor())
	registry.RegisterDomain(models.DomainLoan, loan.NewProcessor(loan.NewAllocator(notify.LogNotifier{})))
	repayments := loan.NewRepaymentService(ledger.NewService(store, registry))

	f := &pipelineFixture{
		store:    store,
		pipeline: reconcile.NewPipeline(store, repayments, reconcile.CSVReader{}),
		year:     models.Now().Year(),
		memberID: uuid.New(),
		loanID:   uuid.New(),
	}

	ctx := context.Background()
	require.NoError(t, store.Members().Create(ctx, &models.Member{
		ID: f.memberID, ERPID: "COOP/0042", Name: "Bulk Member",
		Active: true, CreatedAt: models.Now(),
	}))

	softType := &models.LoanType{
		ID: uuid.New(), Name: "Soft Loan",
		InterestRate: decimal.RequireFromString("0.075"),
		MinDuration:  1, MaxDuration: 6,
		MaxAmount:         money.MustParse("500000"),
		SavingsMultiplier: decimal.RequireFromString("2"),
		Active:            true,
	}
	require.NoError(t, store.LoanTypes().Create(ctx, softType))

	now := models.Now()
	require.NoError(t, store.Loans().Create(ctx, &models.Loan{
		ID: f.loanID, MemberID: f.memberID, LoanTypeID: softType.ID,
		PrincipalAmount:  money.MustParse("10000"),
		InterestAmount:   money.MustParse("2000"),
		TotalAmount:      money.MustParse("12000"),
		PaidAmount:       money.Zero(),
		RemainingBalance: money.MustParse("12000"),
		Tenure:           6,
		Status:           models.LoanActive,
		CreatedAt:        now, UpdatedAt: now,
	}))

	rows := make([]*models.LoanSchedule, 0, 6)
	for i := 1; i <= 6; i++ {
		rows = append(rows, &models.LoanSchedule{
			ID: uuid.New(), LoanID: f.loanID, Sequence: i,
			DueDate:          now.AddDate(0, i, 0),
			PrincipalPortion: money.MustParse("1666.67"),
			InterestPortion:  money.MustParse("333.33"),
			ExpectedAmount:   money.MustParse("2000"),
			PaidAmount:       money.Zero(),
			RemainingBalance: money.MustParse("2000"),
			Status:           models.SchedulePending,
		})
	}
	require.NoError(t, store.Schedules().CreateBatch(ctx, rows))
	return f
}

func (f *pipelineFixture) csv(rows ...string) []byte {
	out := "member_id,amount,month,year,description\n"
	for _, r := range rows {
		out += r + "\n"
	}
	return []byte(out)
}

func (f *pipelineFixture) loan(t *testing.T) *models.Loan {
	t.Helper()
	l, err := f.store.Loans().Get(context.Background(), f.loanID)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

// =============================================================================
// PROCESS
// =============================================================================

func TestProcess_MixedRows_PartiallyCompleted(t *testing.T) {
	// GIVEN: Three rows for one member, one naming an unknown loan type
	// WHEN: Processing the upload
	// THEN: Two rows post, one is recorded failed, the audit record is
	//       PARTIALLY_COMPLETED

	f := newPipelineFixture(t)
	ctx := context.Background()

	data := f.csv(
		fmt.Sprintf("COOP/0042,2000,4,%d,Soft Loan", f.year),
		fmt.Sprintf("COOP/0042,1500,5,%d,mortgage", f.year),
		fmt.Sprintf("COOP/0042,2000,6,%d,soft", f.year),
	)
	upload, err := f.pipeline.Process(ctx, "march.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadPartiallyCompleted, upload.Status)
	assert.Equal(t, 3, upload.TotalRows)
	assert.Equal(t, 2, upload.SuccessRows)
	require.Len(t, upload.FailedRows, 1)
	assert.Equal(t, 2, upload.FailedRows[0].RowNumber)
	assert.Contains(t, upload.FailedRows[0].Reason, "mortgage")

	l := f.loan(t)
	assert.Equal(t, "4000.00", l.PaidAmount.StringFixed())
	assert.Equal(t, "8000.00", l.RemainingBalance.StringFixed())

	// Both posted repayments carry the upload's audit trail.
	records, err := f.store.Repayments().ListByLoan(ctx, f.loanID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, reconcile.Source, r.Source)
		require.NotNil(t, r.UploadID)
		assert.Equal(t, upload.ID, *r.UploadID)
	}

	// The stored record matches the returned one.
	stored, err := f.store.Uploads().Get(ctx, upload.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.UploadPartiallyCompleted, stored.Status)
	assert.Len(t, stored.FailedRows, 1)
	assert.NotNil(t, stored.CompletedAt)
}

func TestProcess_AllRowsClean_Completed(t *testing.T) {
	f := newPipelineFixture(t)

	data := f.csv(
		fmt.Sprintf("COOP/0042,2000,4,%d,Soft Loan", f.year),
		fmt.Sprintf("COOP/0042,2000,5,%d,Soft Loan", f.year),
	)
	upload, err := f.pipeline.Process(context.Background(), "clean.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadCompleted, upload.Status)
	assert.Equal(t, 2, upload.SuccessRows)
	assert.Empty(t, upload.FailedRows)
}

func TestProcess_UnknownMember_AllRowsFail(t *testing.T) {
	f := newPipelineFixture(t)

	data := f.csv(fmt.Sprintf("COOP/9999,2000,4,%d,Soft Loan", f.year))
	upload, err := f.pipeline.Process(context.Background(), "ghost.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadFailed, upload.Status)
	assert.Equal(t, 0, upload.SuccessRows)
	require.Len(t, upload.FailedRows, 1)
	assert.Contains(t, upload.FailedRows[0].Reason, "not found")
}

func TestProcess_DuplicatePeriodWithinFile_SecondRowRejected(t *testing.T) {
	// GIVEN: Two rows for the same loan and period
	// WHEN: Processing
	// THEN: The first posts inside the member's unit, the second is
	//       rejected by the in-unit duplicate check

	f := newPipelineFixture(t)

	data := f.csv(
		fmt.Sprintf("COOP/0042,2000,4,%d,Soft Loan", f.year),
		fmt.Sprintf("COOP/0042,1000,4,%d,Soft Loan", f.year),
	)
	upload, err := f.pipeline.Process(context.Background(), "dup.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadPartiallyCompleted, upload.Status)
	assert.Equal(t, 1, upload.SuccessRows)
	require.Len(t, upload.FailedRows, 1)
	assert.Contains(t, upload.FailedRows[0].Reason, "already posted")

	l := f.loan(t)
	assert.Equal(t, "2000.00", l.PaidAmount.StringFixed())
}

func TestProcess_OverpaymentRow_RejectedWithoutPoisoningUnit(t *testing.T) {
	// A row exceeding the remaining balance is rejected before any
	// mutation; the member's later rows still post in the same unit.
	f := newPipelineFixture(t)

	data := f.csv(
		fmt.Sprintf("COOP/0042,50000,4,%d,Soft Loan", f.year),
		fmt.Sprintf("COOP/0042,2000,5,%d,Soft Loan", f.year),
	)
	upload, err := f.pipeline.Process(context.Background(), "over.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadPartiallyCompleted, upload.Status)
	assert.Equal(t, 1, upload.SuccessRows)
	require.Len(t, upload.FailedRows, 1)
	assert.Contains(t, upload.FailedRows[0].Reason, "exceeds remaining balance")

	l := f.loan(t)
	assert.Equal(t, "2000.00", l.PaidAmount.StringFixed())
}

func TestProcess_LaterRowChecksAgainstUpdatedBalance(t *testing.T) {
	// GIVEN: 12000 outstanding; a first row of 11000 posts
	// WHEN: A second row of 2000 follows in the same unit
	// THEN: It is rejected against the post-first-row balance of 1000,
	//       and the first row's posting survives

	f := newPipelineFixture(t)

	data := f.csv(
		fmt.Sprintf("COOP/0042,11000,4,%d,Soft Loan", f.year),
		fmt.Sprintf("COOP/0042,2000,5,%d,Soft Loan", f.year),
	)
	upload, err := f.pipeline.Process(context.Background(), "seq.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadPartiallyCompleted, upload.Status)
	assert.Equal(t, 1, upload.SuccessRows)
	require.Len(t, upload.FailedRows, 1)
	assert.Contains(t, upload.FailedRows[0].Reason, "exceeds remaining balance")

	l := f.loan(t)
	assert.Equal(t, "11000.00", l.PaidAmount.StringFixed())
	assert.Equal(t, "1000.00", l.RemainingBalance.StringFixed())
}

func TestProcess_PublishedFinalInstallment_Posts(t *testing.T) {
	// GIVEN: A loan one installment from settlement whose published rows
	//        sum two cents over the total, so 24166.65 remains against a
	//        final row of 24166.67
	// WHEN: The upload carries the published 24166.67
	// THEN: The row posts and the loan completes

	f := newPipelineFixture(t)
	ctx := context.Background()

	types, err := f.store.LoanTypes().List(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)

	memberID := uuid.New()
	require.NoError(t, f.store.Members().Create(ctx, &models.Member{
		ID: memberID, ERPID: "COOP/0077", Name: "Final Installment",
		Active: true, CreatedAt: models.Now(),
	}))

	now := models.Now()
	loanID := uuid.New()
	require.NoError(t, f.store.Loans().Create(ctx, &models.Loan{
		ID: loanID, MemberID: memberID, LoanTypeID: types[0].ID,
		PrincipalAmount:  money.MustParse("100000"),
		InterestAmount:   money.MustParse("45000"),
		TotalAmount:      money.MustParse("145000"),
		PaidAmount:       money.MustParse("120833.35"),
		RemainingBalance: money.MustParse("24166.65"),
		Tenure:           6,
		Status:           models.LoanActive,
		CreatedAt:        now, UpdatedAt: now,
	}))

	rows := make([]*models.LoanSchedule, 0, 6)
	for i := 1; i <= 6; i++ {
		row := &models.LoanSchedule{
			ID: uuid.New(), LoanID: loanID, Sequence: i,
			DueDate:          now.AddDate(0, i, 0),
			PrincipalPortion: money.MustParse("16666.67"),
			InterestPortion:  money.MustParse("7500.00"),
			ExpectedAmount:   money.MustParse("24166.67"),
			PaidAmount:       money.MustParse("24166.67"),
			RemainingBalance: money.Zero(),
			Status:           models.SchedulePaid,
		}
		if i == 6 {
			row.PaidAmount = money.Zero()
			row.RemainingBalance = money.MustParse("24166.67")
			row.Status = models.SchedulePending
		}
		rows = append(rows, row)
	}
	require.NoError(t, f.store.Schedules().CreateBatch(ctx, rows))

	data := f.csv(fmt.Sprintf("COOP/0077,24166.67,6,%d,Soft Loan", f.year))
	upload, err := f.pipeline.Process(ctx, "final.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadCompleted, upload.Status)
	assert.Equal(t, 1, upload.SuccessRows)
	assert.Empty(t, upload.FailedRows)

	l, err := f.store.Loans().Get(ctx, loanID)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, models.LoanCompleted, l.Status)
	assert.True(t, l.RemainingBalance.IsZero())
	assert.Equal(t, "145000.00", l.PaidAmount.StringFixed())
}

func TestProcess_StructurallyInvalidRow_RecordedWithReason(t *testing.T) {
	f := newPipelineFixture(t)

	data := f.csv(
		fmt.Sprintf("COOP/0042,abc,4,%d,Soft Loan", f.year),
		fmt.Sprintf("COOP/0042,2000,4,%d,Soft Loan", f.year),
	)
	upload, err := f.pipeline.Process(context.Background(), "bad-amount.csv", data, "finance")
	require.NoError(t, err)

	assert.Equal(t, models.UploadPartiallyCompleted, upload.Status)
	assert.Equal(t, 1, upload.SuccessRows)
	require.Len(t, upload.FailedRows, 1)
	assert.Contains(t, upload.FailedRows[0].Reason, "invalid amount")
}

func TestProcess_UnreadableFile_FailedRecordPersists(t *testing.T) {
	// GIVEN: A file missing a required column
	// WHEN: Processing
	// THEN: The parse error comes back AND the audit record lands FAILED

	f := newPipelineFixture(t)
	ctx := context.Background()

	data := []byte("member_id,amount,month\nCOOP/0042,2000,4\n")
	upload, err := f.pipeline.Process(ctx, "broken.csv", data, "finance")
	require.Error(t, err)
	require.NotNil(t, upload)

	stored, err := f.store.Uploads().Get(ctx, upload.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.UploadFailed, stored.Status)
	assert.Contains(t, stored.Error, "missing required column")
	assert.NotNil(t, stored.CompletedAt)
}
