/*
errors.go - Error taxonomy for the whole engine

PURPOSE:
  All errors surfaced to callers carry a stable machine-readable code and a
  human-readable message. Sentinels support errors.Is checks; structured
  types carry context and unwrap to their sentinel.

ERROR CODES:
  VALIDATION               bad input shape/range; never retried
  NOT_FOUND                referenced entity does not exist
  INVALID_STATE_TRANSITION attempted move absent from the state table
  INSUFFICIENT_FUNDS       debit exceeds available balance
  DUPLICATE                repayment already posted for a period
  PROCESSING               unexpected failure inside an atomic unit
  ALREADY_REVERSED         entry has already been reversed

USAGE:
  if errors.Is(err, models.ErrInsufficientFunds) { ... }
  code := models.CodeOf(err)   // stable code for the API layer
*/
package models

import (
	"errors"
	"fmt"

	"github.com/coopfin/ledger-engine/money"
)

// =============================================================================
// CODES
// =============================================================================

type ErrorCode string

const (
	CodeValidation             ErrorCode = "VALIDATION"
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	CodeInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	CodeDuplicate              ErrorCode = "DUPLICATE"
	CodeProcessing             ErrorCode = "PROCESSING"
	CodeAlreadyReversed        ErrorCode = "ALREADY_REVERSED"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all bad-input errors.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidTransition is returned for a move absent from a state table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInsufficientFunds is returned when a debit exceeds the available
	// balance, computed inside the same atomic unit as the write.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateRepayment is returned when a repayment already exists for
	// the same (loan, month, year).
	ErrDuplicateRepayment = errors.New("repayment already posted for period")

	// ErrAlreadyReversed is returned when reversing a REVERSED entry.
	// Retrying a reversal must fail cleanly rather than double-apply.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrProcessing wraps unexpected failures inside an atomic unit. The
	// whole unit rolls back.
	ErrProcessing = errors.New("processing failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is a bad-input failure with a field hint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError details a rejected state move.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientFundsError carries the shortfall detail.
type InsufficientFundsError struct {
	Available money.Money
	Requested money.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available.StringFixed(), e.Requested.StringFixed())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// DuplicateRepaymentError identifies the conflicting period.
type DuplicateRepaymentError struct {
	LoanID string
	Month  int
	Year   int
}

func (e *DuplicateRepaymentError) Error() string {
	return fmt.Sprintf("repayment for loan %s already posted for %d/%d",
		e.LoanID, e.Month, e.Year)
}

func (e *DuplicateRepaymentError) Unwrap() error { return ErrDuplicateRepayment }

// =============================================================================
// HELPERS
// =============================================================================

// CodeOf maps any engine error to its stable code. Unknown errors are
// PROCESSING: they rolled back an atomic unit.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidStateTransition
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrDuplicateRepayment):
		return CodeDuplicate
	case errors.Is(err, ErrAlreadyReversed):
		return CodeAlreadyReversed
	default:
		return CodeProcessing
	}
}

// IsClientError reports whether the error is due to invalid client input
// rather than an internal failure.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidStateTransition, CodeInsufficientFunds,
		CodeDuplicate, CodeAlreadyReversed:
		return true
	}
	return false
}

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
