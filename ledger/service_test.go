package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/ledger-engine/ledger"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
	"github.com/coopfin/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*ledger.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := ledger.NewRegistry(ledger.NewAdminProcessor())
	registry.RegisterDomain(models.DomainSavings, ledger.NewSavingsProcessor())
	registry.RegisterDomain(models.DomainShares, ledger.NewSharesProcessor())

	return ledger.NewService(store, registry), store
}

// seedMemberWithSavings creates a member and a savings account with the
// given opening balance.
func seedMemberWithSavings(t *testing.T, store *sqlite.Store, balance string) (uuid.UUID, uuid.UUID) {
	ctx := context.Background()
	memberID := uuid.New()
	require.NoError(t, store.Members().Create(ctx, &models.Member{
		ID: memberID, ERPID: "ERP-" + memberID.String()[:8], Name: "Test Member",
		Active: true, CreatedAt: models.Now(),
	}))

	savingsID := uuid.New()
	require.NoError(t, store.Savings().Create(ctx, &models.SavingsAccount{
		ID: savingsID, MemberID: memberID,
		Balance: money.MustParse(balance), Status: models.AccountActive,
		CreatedAt: models.Now(), UpdatedAt: models.Now(),
	}))
	return memberID, savingsID
}

func depositDraft(memberID, savingsID uuid.UUID, amount string) *models.LedgerEntry {
	return &models.LedgerEntry{
		Kind:      models.KindDeposit,
		Amount:    money.MustParse(amount),
		MemberID:  memberID,
		SavingsID: &savingsID,
		CreatedBy: "teller",
	}
}

func withdrawalDraft(memberID, savingsID uuid.UUID, amount string) *models.LedgerEntry {
	return &models.LedgerEntry{
		Kind:      models.KindWithdrawal,
		Amount:    money.MustParse(amount),
		MemberID:  memberID,
		SavingsID: &savingsID,
		CreatedBy: "teller",
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DepositAutoComplete_MovesBalance(t *testing.T) {
	// GIVEN: A savings account with 1000.00
	// WHEN: A 250.00 deposit is created with auto-complete
	// THEN: The entry is COMPLETED with BalanceAfter 1250.00 and the
	//       account balance matches

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	e, err := svc.Create(ctx, depositDraft(memberID, savingsID, "250.00"), true)
	require.NoError(t, err)

	assert.Equal(t, models.EntryCompleted, e.Status)
	assert.Equal(t, models.DirectionCredit, e.Direction)
	assert.Equal(t, models.DomainSavings, e.Domain)
	assert.Equal(t, "1250.00", e.BalanceAfter.StringFixed())

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "1250.00", account.Balance.StringFixed())
}

func TestCreate_PendingDeposit_DoesNotMoveBalance(t *testing.T) {
	// GIVEN: A savings account with 1000.00
	// WHEN: A deposit is created WITHOUT auto-complete
	// THEN: The entry is PENDING and the balance is untouched

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	e, err := svc.Create(ctx, depositDraft(memberID, savingsID, "250.00"), false)
	require.NoError(t, err)
	assert.Equal(t, models.EntryPending, e.Status)

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", account.Balance.StringFixed())
}

func TestCreate_WithdrawalExceedingBalance_Rejected(t *testing.T) {
	// GIVEN: A savings account with 100.00
	// WHEN: Withdrawing 150.00
	// THEN: INSUFFICIENT_FUNDS, nothing persisted, balance untouched

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "100.00")

	_, err := svc.Create(ctx, withdrawalDraft(memberID, savingsID, "150.00"), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Equal(t, models.CodeInsufficientFunds, models.CodeOf(err))

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", account.Balance.StringFixed())

	entries, err := store.Entries().ListByMember(ctx, memberID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected entry must not be persisted")
}

func TestCreate_UnknownKind_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	memberID, savingsID := seedMemberWithSavings(t, store, "100.00")

	draft := depositDraft(memberID, savingsID, "10.00")
	draft.Kind = "bribe"
	_, err := svc.Create(context.Background(), draft, true)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreate_ReversalKindDirectly_Rejected(t *testing.T) {
	// Reversals are only born through Reverse.
	svc, store := newTestService(t)
	memberID, savingsID := seedMemberWithSavings(t, store, "100.00")

	draft := depositDraft(memberID, savingsID, "10.00")
	draft.Kind = models.KindReversal
	draft.Direction = models.DirectionDebit
	_, err := svc.Create(context.Background(), draft, true)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreate_NegativeAmount_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	memberID, savingsID := seedMemberWithSavings(t, store, "100.00")

	draft := depositDraft(memberID, savingsID, "10.00")
	draft.Amount = money.MustParse("-10.00")
	_, err := svc.Create(context.Background(), draft, true)
	assert.ErrorIs(t, err, models.ErrValidation)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestTransition_PendingToCompleted_AppliesEffect(t *testing.T) {
	// GIVEN: A PENDING deposit
	// WHEN: Transitioning it to COMPLETED
	// THEN: The effect applies and history holds both moves

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	e, err := svc.Create(ctx, depositDraft(memberID, savingsID, "500.00"), false)
	require.NoError(t, err)

	e, err = svc.Transition(ctx, e.ID, models.EntryCompleted, "supervisor", "approved")
	require.NoError(t, err)
	assert.Equal(t, models.EntryCompleted, e.Status)
	assert.Equal(t, "1500.00", e.BalanceAfter.StringFixed())

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "1500.00", account.Balance.StringFixed())

	history, err := svc.StatusHistory(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.EntryPending, history[0].To)
	assert.Equal(t, models.EntryCompleted, history[1].To)
}

func TestTransition_InvalidMove_Rejected(t *testing.T) {
	// GIVEN: A COMPLETED entry
	// WHEN: Trying to move it back to PENDING
	// THEN: INVALID_STATE_TRANSITION

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	e, err := svc.Create(ctx, depositDraft(memberID, savingsID, "100.00"), true)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, e.ID, models.EntryPending, "x", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	var tErr *models.TransitionError
	assert.ErrorAs(t, err, &tErr)
}

func TestTransition_CancelPending_DoesNotApply(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	e, err := svc.Create(ctx, depositDraft(memberID, savingsID, "100.00"), false)
	require.NoError(t, err)

	e, err = svc.Transition(ctx, e.ID, models.EntryCancelled, "teller", "typo")
	require.NoError(t, err)
	assert.Equal(t, models.EntryCancelled, e.Status)

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", account.Balance.StringFixed())
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestReverse_Deposit_RestoresBalance(t *testing.T) {
	// GIVEN: A completed 300.00 deposit on a 1000.00 account
	// WHEN: Reversing it
	// THEN: Balance returns to 1000.00, original is REVERSED, reversal is
	//       an opposite-direction COMPLETED entry pointing at the original

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	original, err := svc.Create(ctx, depositDraft(memberID, savingsID, "300.00"), true)
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, original.ID, "posted to wrong account", "auditor")
	require.NoError(t, err)

	assert.Equal(t, models.KindReversal, reversal.Kind)
	assert.Equal(t, models.DirectionDebit, reversal.Direction)
	assert.Equal(t, models.EntryCompleted, reversal.Status)
	require.NotNil(t, reversal.ParentEntryID)
	assert.Equal(t, original.ID, *reversal.ParentEntryID)
	assert.Equal(t, "1000.00", reversal.BalanceAfter.StringFixed())

	got, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryReversed, got.Status)

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", account.Balance.StringFixed())
}

func TestReverse_Twice_FailsCleanly(t *testing.T) {
	// Retrying a reversal must fail, not double-apply.
	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	original, err := svc.Create(ctx, depositDraft(memberID, savingsID, "300.00"), true)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, original.ID, "first", "auditor")
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, original.ID, "second", "auditor")
	assert.ErrorIs(t, err, models.ErrAlreadyReversed)

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", account.Balance.StringFixed(), "second reversal must not move the balance")
}

func TestReverse_PendingEntry_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "1000.00")

	e, err := svc.Create(ctx, depositDraft(memberID, savingsID, "300.00"), false)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, e.ID, "nope", "auditor")
	assert.ErrorIs(t, err, models.ErrValidation)
}

// =============================================================================
// SHARES
// =============================================================================

func TestSharePurchase_MovesUnitsAndValue(t *testing.T) {
	// GIVEN: A holding of 10 units at 50.00
	// WHEN: Purchasing 500.00 worth of shares
	// THEN: TotalValue rises by 500.00 and units by 10

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, _ := seedMemberWithSavings(t, store, "0.00")

	sharesID := uuid.New()
	require.NoError(t, store.Shares().Create(ctx, &models.ShareHolding{
		ID: sharesID, MemberID: memberID,
		Units:      money.MustParse("10").Decimal(),
		UnitPrice:  money.MustParse("50.00"),
		TotalValue: money.MustParse("500.00"),
		Status:     models.AccountActive,
		CreatedAt:  models.Now(), UpdatedAt: models.Now(),
	}))

	e, err := svc.Create(ctx, &models.LedgerEntry{
		Kind:     models.KindPurchase,
		Amount:   money.MustParse("500.00"),
		MemberID: memberID,
		SharesID: &sharesID,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", e.BalanceAfter.StringFixed())

	holding, err := store.Shares().Get(ctx, sharesID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", holding.TotalValue.StringFixed())
	assert.Equal(t, "20", holding.Units.String())
}

// =============================================================================
// BATCH
// =============================================================================

func TestCreateBatch_AsUnit_AllOrNothing(t *testing.T) {
	// GIVEN: Two drafts, the second overdrawing the account
	// WHEN: Submitting them as one atomic unit
	// THEN: Neither applies

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "100.00")

	drafts := []*models.LedgerEntry{
		depositDraft(memberID, savingsID, "50.00"),
		withdrawalDraft(memberID, savingsID, "500.00"),
	}
	_, err := svc.CreateBatch(ctx, drafts, true)
	require.Error(t, err)

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", account.Balance.StringFixed())

	entries, err := store.Entries().ListByMember(ctx, memberID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateBatch_Independent_PartialSuccess(t *testing.T) {
	// GIVEN: Two drafts, the second invalid
	// WHEN: Submitting them independently
	// THEN: The first posts, the second carries its error

	svc, store := newTestService(t)
	ctx := context.Background()
	memberID, savingsID := seedMemberWithSavings(t, store, "100.00")

	drafts := []*models.LedgerEntry{
		depositDraft(memberID, savingsID, "50.00"),
		withdrawalDraft(memberID, savingsID, "5000.00"),
	}
	results, err := svc.CreateBatch(ctx, drafts, false)
	require.NoError(t, err, "partial success is success in independent mode")
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)

	account, err := store.Savings().Get(ctx, savingsID)
	require.NoError(t, err)
	assert.Equal(t, "150.00", account.Balance.StringFixed())
}
