package loan_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/ledger-engine/loan"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

func softLoanType() *models.LoanType {
	return &models.LoanType{
		Name:              "Soft Loan",
		InterestRate:      decimal.RequireFromString("0.075"),
		MinDuration:       1,
		MaxDuration:       6,
		MaxAmount:         money.MustParse("500000"),
		SavingsMultiplier: decimal.RequireFromString("2"),
		Active:            true,
	}
}

func regularLoanType() *models.LoanType {
	return &models.LoanType{
		Name:              "Regular Loan",
		InterestRate:      decimal.RequireFromString("0.10"),
		MinDuration:       1,
		MaxDuration:       11,
		MaxAmount:         money.MustParse("2000000"),
		SavingsMultiplier: decimal.RequireFromString("3"),
		Active:            true,
	}
}

var anchor = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func TestCalculate_SoftLoan_SimpleInterest(t *testing.T) {
	// GIVEN: A soft loan of 100000 at 7.5% monthly over 6 months
	// WHEN: Calculating the quote
	// THEN: interest = 100000 * 0.075 * 6 = 45000, total 145000,
	//       monthly 24166.67

	q, err := loan.Calculate(softLoanType(), money.MustParse("100000"), 6, anchor)
	require.NoError(t, err)

	assert.True(t, q.Soft)
	assert.Equal(t, "45000.00", q.Interest.StringFixed())
	assert.Equal(t, "145000.00", q.Total.StringFixed())
	assert.Equal(t, "24166.67", q.MonthlyPayment.StringFixed())
}

func TestCalculate_RegularLoan_FlatInterest(t *testing.T) {
	// GIVEN: A regular loan of 110000 at 10% flat over 11 months
	// WHEN: Calculating the quote
	// THEN: interest = 11000 regardless of tenure, monthly = 11000

	q, err := loan.Calculate(regularLoanType(), money.MustParse("110000"), 11, anchor)
	require.NoError(t, err)

	assert.False(t, q.Soft)
	assert.Equal(t, "11000.00", q.Interest.StringFixed())
	assert.Equal(t, "121000.00", q.Total.StringFixed())
	assert.Equal(t, "11000.00", q.MonthlyPayment.StringFixed())
}

func TestCalculate_Schedule_Shape(t *testing.T) {
	// GIVEN: A 6-month soft loan anchored mid-March
	// WHEN: Calculating the schedule
	// THEN: 6 lines, first due April 1st, monthly steps, constant
	//       (principal, interest) pairs

	q, err := loan.Calculate(softLoanType(), money.MustParse("100000"), 6, anchor)
	require.NoError(t, err)
	require.Len(t, q.Schedule, 6)

	first := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	for i, line := range q.Schedule {
		assert.Equal(t, i+1, line.Sequence)
		assert.Equal(t, first.AddDate(0, i, 0), line.PaymentDate)
		assert.Equal(t, "16666.67", line.Principal.StringFixed())
		assert.Equal(t, "7500.00", line.Interest.StringFixed())
		assert.Equal(t, line.Principal.Add(line.Interest), line.Expected)
	}
}

func TestCalculate_ScheduleSum_WithinTolerance(t *testing.T) {
	// Installment rounding may leave a few cents of drift against the
	// total; the drift must stay within the settlement tolerance per line.
	q, err := loan.Calculate(softLoanType(), money.MustParse("100000"), 6, anchor)
	require.NoError(t, err)

	sum := money.Zero()
	for _, line := range q.Schedule {
		sum = sum.Add(line.Expected)
	}
	drift := sum.Sub(q.Total).Abs()
	maxDrift := money.Tolerance.MulInt(len(q.Schedule))
	assert.True(t, drift.LessThanOrEqual(maxDrift),
		"schedule sum %s drifts %s from total %s", sum, drift, q.Total)
}

func TestCalculate_Idempotent(t *testing.T) {
	// Identical inputs must produce identical output, date for date.
	a, err := loan.Calculate(softLoanType(), money.MustParse("250000"), 4, anchor)
	require.NoError(t, err)
	b, err := loan.Calculate(softLoanType(), money.MustParse("250000"), 4, anchor)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestCalculate_Bounds(t *testing.T) {
	lt := softLoanType()

	cases := []struct {
		name      string
		lt        *models.LoanType
		principal string
		tenure    int
	}{
		{"zero principal", lt, "0", 6},
		{"negative principal", lt, "-100", 6},
		{"over type max", lt, "500001", 6},
		{"tenure too short", lt, "1000", 0},
		{"tenure too long", lt, "1000", 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loan.Calculate(tc.lt, money.MustParse(tc.principal), tc.tenure, anchor)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestCalculate_InactiveType_Rejected(t *testing.T) {
	lt := softLoanType()
	lt.Active = false
	_, err := loan.Calculate(lt, money.MustParse("1000"), 3, anchor)
	assert.ErrorIs(t, err, models.ErrValidation)
}
