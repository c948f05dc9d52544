package loan_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/ledger-engine/loan"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
	"github.com/coopfin/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type eligibilityFixture struct {
	store    *sqlite.Store
	engine   *loan.EligibilityEngine
	memberID uuid.UUID

	soft        *models.LoanType
	regular     *models.LoanType
	development *models.LoanType // 1-year-plus
}

func newEligibilityFixture(t *testing.T) *eligibilityFixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	f := &eligibilityFixture{
		store:    store,
		engine:   loan.NewEligibilityEngine(store),
		memberID: uuid.New(),
	}

	require.NoError(t, store.Members().Create(ctx, &models.Member{
		ID: f.memberID, ERPID: "COOP/0001", Name: "Eligible Member",
		Active: true, CreatedAt: models.Now(),
	}))

	f.soft = &models.LoanType{
		ID: uuid.New(), Name: "Soft Loan",
		InterestRate: decimal.RequireFromString("0.075"),
		MinDuration:  1, MaxDuration: 6,
		MaxAmount:         money.MustParse("500000"),
		SavingsMultiplier: decimal.RequireFromString("2"),
		Active:            true,
	}
	f.regular = &models.LoanType{
		ID: uuid.New(), Name: "Regular Loan",
		InterestRate: decimal.RequireFromString("0.10"),
		MinDuration:  1, MaxDuration: 11,
		MaxAmount:         money.MustParse("2000000"),
		SavingsMultiplier: decimal.RequireFromString("3"),
		Active:            true,
	}
	f.development = &models.LoanType{
		ID: uuid.New(), Name: "Development Loan",
		InterestRate: decimal.RequireFromString("0.12"),
		MinDuration:  12, MaxDuration: 24,
		MaxAmount:         money.MustParse("5000000"),
		SavingsMultiplier: decimal.RequireFromString("4"),
		Active:            true,
	}
	for _, lt := range []*models.LoanType{f.soft, f.regular, f.development} {
		require.NoError(t, store.LoanTypes().Create(ctx, lt))
	}
	return f
}

func (f *eligibilityFixture) seedSavings(t *testing.T, balance string, status models.AccountStatus) {
	t.Helper()
	require.NoError(t, f.store.Savings().Create(context.Background(), &models.SavingsAccount{
		ID: uuid.New(), MemberID: f.memberID,
		Balance: money.MustParse(balance), Status: status,
		CreatedAt: models.Now(), UpdatedAt: models.Now(),
	}))
}

func (f *eligibilityFixture) seedLoan(t *testing.T, lt *models.LoanType, status models.LoanStatus) {
	t.Helper()
	total := money.MustParse("110000")
	require.NoError(t, f.store.Loans().Create(context.Background(), &models.Loan{
		ID: uuid.New(), MemberID: f.memberID, LoanTypeID: lt.ID,
		PrincipalAmount:  money.MustParse("100000"),
		InterestAmount:   money.MustParse("10000"),
		TotalAmount:      total,
		RemainingBalance: total,
		Tenure:           6,
		Status:           status,
		CreatedAt:        models.Now(), UpdatedAt: models.Now(),
	}))
}

func (f *eligibilityFixture) check(t *testing.T, lt *models.LoanType) *loan.Eligibility {
	t.Helper()
	result, err := f.engine.Check(context.Background(), f.memberID, lt.ID, money.Zero(), 0)
	require.NoError(t, err)
	return result
}

// =============================================================================
// BLOCKING RULES
// =============================================================================

func TestEligibility_DefaultedLoan_BlocksEverything(t *testing.T) {
	// GIVEN: A member with a DEFAULTED regular loan and healthy savings
	// WHEN: Checking eligibility for any type
	// THEN: Ineligible with the default reason

	f := newEligibilityFixture(t)
	f.seedSavings(t, "1000000", models.AccountActive)
	f.seedLoan(t, f.regular, models.LoanDefaulted)

	for _, lt := range []*models.LoanType{f.soft, f.regular, f.development} {
		result := f.check(t, lt)
		assert.False(t, result.IsEligible, lt.Name)
		assert.Contains(t, result.Reason, "defaulted")
	}
}

func TestEligibility_NoActiveSavings_Blocks(t *testing.T) {
	// Missing savings account and a frozen one both block.
	f := newEligibilityFixture(t)

	result := f.check(t, f.soft)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "savings")

	f.seedSavings(t, "1000000", models.AccountFrozen)
	result = f.check(t, f.soft)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "savings")
}

func TestEligibility_ConcurrentSoftLoans_Blocked(t *testing.T) {
	f := newEligibilityFixture(t)
	f.seedSavings(t, "1000000", models.AccountActive)
	f.seedLoan(t, f.soft, models.LoanActive)

	result := f.check(t, f.soft)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "soft loan")
}

func TestEligibility_RegularAndOneYearPlus_MutuallyExclusive(t *testing.T) {
	// GIVEN: A member holding a 1-year-plus loan
	// THEN: A regular loan is blocked, and vice versa

	f := newEligibilityFixture(t)
	f.seedSavings(t, "1000000", models.AccountActive)
	f.seedLoan(t, f.development, models.LoanActive)

	result := f.check(t, f.regular)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "1-year-plus")

	f2 := newEligibilityFixture(t)
	f2.seedSavings(t, "1000000", models.AccountActive)
	f2.seedLoan(t, f2.regular, models.LoanActive)

	result = f2.check(t, f2.development)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "regular")
}

func TestEligibility_ConcurrentRegularLoans_Blocked(t *testing.T) {
	f := newEligibilityFixture(t)
	f.seedSavings(t, "1000000", models.AccountActive)
	f.seedLoan(t, f.regular, models.LoanActive)

	result := f.check(t, f.regular)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "regular")
}

func TestEligibility_SoftAlongsideRegular_Allowed(t *testing.T) {
	// A soft loan next to a regular loan breaks no rule.
	f := newEligibilityFixture(t)
	f.seedSavings(t, "1000000", models.AccountActive)
	f.seedLoan(t, f.regular, models.LoanActive)

	result := f.check(t, f.soft)
	assert.True(t, result.IsEligible)
}

// =============================================================================
// MAX AMOUNT
// =============================================================================

func TestEligibility_SoftLoan_FixedCeiling(t *testing.T) {
	// Soft loans ignore the savings multiplier; the ceiling is fixed.
	f := newEligibilityFixture(t)
	f.seedSavings(t, "50", models.AccountActive)

	result := f.check(t, f.soft)
	require.True(t, result.IsEligible)
	assert.Equal(t, "500000.00", result.MaxAmount.StringFixed())
}

func TestEligibility_RegularLoan_SavingsMultiplier(t *testing.T) {
	// GIVEN: 200000 in savings and a 3x multiplier
	// THEN: Max amount is 600000

	f := newEligibilityFixture(t)
	f.seedSavings(t, "200000", models.AccountActive)

	result := f.check(t, f.regular)
	require.True(t, result.IsEligible)
	assert.Equal(t, "600000.00", result.MaxAmount.StringFixed())
}

func TestEligibility_MultiplierCappedByTypeMax(t *testing.T) {
	// GIVEN: Savings large enough that balance * multiplier exceeds the
	//        type's own maximum
	// THEN: The type maximum wins

	f := newEligibilityFixture(t)
	f.seedSavings(t, "1000000", models.AccountActive)

	result := f.check(t, f.regular)
	require.True(t, result.IsEligible)
	assert.Equal(t, "2000000.00", result.MaxAmount.StringFixed())
}

func TestEligibility_RequestedAmountOverMax_Rejected(t *testing.T) {
	f := newEligibilityFixture(t)
	f.seedSavings(t, "100000", models.AccountActive)

	result, err := f.engine.Check(context.Background(), f.memberID, f.regular.ID,
		money.MustParse("300001"), 0)
	require.NoError(t, err)
	assert.False(t, result.IsEligible)
	assert.Equal(t, "300000.00", result.MaxAmount.StringFixed())
	assert.Contains(t, result.Reason, "exceeds maximum")
}

func TestEligibility_TenureOutsideBounds_Rejected(t *testing.T) {
	f := newEligibilityFixture(t)
	f.seedSavings(t, "100000", models.AccountActive)

	result, err := f.engine.Check(context.Background(), f.memberID, f.soft.ID,
		money.MustParse("1000"), 9)
	require.NoError(t, err)
	assert.False(t, result.IsEligible)
	assert.Contains(t, result.Reason, "tenure")
}

func TestEligibility_UnknownLoanType_NotFound(t *testing.T) {
	f := newEligibilityFixture(t)
	f.seedSavings(t, "100000", models.AccountActive)

	_, err := f.engine.Check(context.Background(), f.memberID, uuid.New(), money.Zero(), 0)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}
