/*
status.go - Status state machines for ledger entries and loans

PURPOSE:
  Both ledger entries and loans move through closed state machines. The
  tables here are the single authority on which transitions exist; every
  Transition/UpdateStatus call in the services validates against them
  before touching anything.

ENTRY MACHINE:
  PENDING -> PROCESSING | COMPLETED | FAILED | CANCELLED
  PROCESSING -> COMPLETED | FAILED
  COMPLETED -> REVERSED
  REVERSED, CANCELLED, FAILED: terminal

LOAN MACHINE:
  PENDING -> IN_REVIEW | REJECTED
  IN_REVIEW -> REVIEWED | REJECTED
  REVIEWED -> APPROVED | REJECTED
  APPROVED -> DISBURSED | REJECTED
  DISBURSED -> ACTIVE | APPROVED
  ACTIVE -> COMPLETED | DEFAULTED | APPROVED
  DEFAULTED -> ACTIVE | COMPLETED
  COMPLETED, REJECTED: terminal

  The moves back to APPROVED exist for exactly one flow: reversing a
  payout entry while the loan has no repayment history, which returns
  the loan to the disbursement queue.
*/
package models

// entryTransitions is the authoritative entry state table.
var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryPending:    {EntryProcessing, EntryCompleted, EntryFailed, EntryCancelled},
	EntryProcessing: {EntryCompleted, EntryFailed},
	EntryCompleted:  {EntryReversed},
	EntryFailed:     {},
	EntryCancelled:  {},
	EntryReversed:   {},
}

// CanTransitionEntry reports whether an entry may move from -> to.
func CanTransitionEntry(from, to EntryStatus) bool {
	for _, s := range entryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EntryStatuses lists every entry status, for exhaustive checks.
func EntryStatuses() []EntryStatus {
	return []EntryStatus{
		EntryPending, EntryProcessing, EntryCompleted,
		EntryFailed, EntryCancelled, EntryReversed,
	}
}

// loanTransitions is the authoritative loan state table.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanPending:   {LoanInReview, LoanRejected},
	LoanInReview:  {LoanReviewed, LoanRejected},
	LoanReviewed:  {LoanApproved, LoanRejected},
	LoanApproved:  {LoanDisbursed, LoanRejected},
	LoanDisbursed: {LoanActive, LoanApproved},
	LoanActive:    {LoanCompleted, LoanDefaulted, LoanApproved},
	LoanDefaulted: {LoanActive, LoanCompleted},
	LoanCompleted: {},
	LoanRejected:  {},
}

// CanTransitionLoan reports whether a loan may move from -> to.
func CanTransitionLoan(from, to LoanStatus) bool {
	for _, s := range loanTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LoanStatuses lists every loan status, for exhaustive checks.
func LoanStatuses() []LoanStatus {
	return []LoanStatus{
		LoanPending, LoanInReview, LoanReviewed, LoanApproved,
		LoanDisbursed, LoanActive, LoanDefaulted, LoanCompleted, LoanRejected,
	}
}
