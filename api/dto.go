/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All monetary amounts cross the wire as strings with two decimal places.
  Floats never touch money.

VALIDATION:
  Structural validation (parseable amounts, known kinds) happens in the
  handlers; business rules stay in the services.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup
*/
package api

import (
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body: stable code plus message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest creates a ledger entry.
type CreateTransactionRequest struct {
	Kind      string `json:"kind"`
	Direction string `json:"direction,omitempty"` // required for adjustment only
	Amount    string `json:"amount"`
	MemberID  string `json:"member_id"`
	LoanID    string `json:"loan_id,omitempty"`
	SavingsID string `json:"savings_id,omitempty"`
	SharesID  string `json:"shares_id,omitempty"`

	Description  string `json:"description,omitempty"`
	CreatedBy    string `json:"created_by"`
	AutoComplete bool   `json:"auto_complete"`

	// Adjustment context; ignored for other kinds.
	Reason       string `json:"reason,omitempty"`
	AuthorizedBy string `json:"authorized_by,omitempty"`
}

// UpdateTransactionStatusRequest moves an entry through the state table.
type UpdateTransactionStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Notes  string `json:"notes,omitempty"`
}

// ReverseTransactionRequest reverses a COMPLETED entry.
type ReverseTransactionRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// TransactionDTO is a ledger entry in API responses.
type TransactionDTO struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Direction    string `json:"direction"`
	Domain       string `json:"domain"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Status       string `json:"status"`

	MemberID      string `json:"member_id"`
	LoanID        string `json:"loan_id,omitempty"`
	SavingsID     string `json:"savings_id,omitempty"`
	SharesID      string `json:"shares_id,omitempty"`
	ParentEntryID string `json:"parent_entry_id,omitempty"`

	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// StatusChangeDTO is one row of a status history.
type StatusChangeDTO struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Actor     string `json:"actor,omitempty"`
	Notes     string `json:"notes,omitempty"`
	ChangedAt string `json:"changed_at"`
}

// =============================================================================
// LOANS
// =============================================================================

// LoanApplicationRequest applies for a loan.
type LoanApplicationRequest struct {
	MemberID   string `json:"member_id"`
	LoanTypeID string `json:"loan_type_id"`
	Amount     string `json:"amount"`
	Tenure     int    `json:"tenure"`
	Purpose    string `json:"purpose,omitempty"`
	AppliedBy  string `json:"applied_by"`
}

// ApproveLoanRequest resolves the pending approval step.
type ApproveLoanRequest struct {
	Level int    `json:"level"`
	Actor string `json:"actor"`
	Notes string `json:"notes,omitempty"`
}

// RejectLoanRequest terminates an application.
type RejectLoanRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// UpdateLoanStatusRequest applies an operational status move.
type UpdateLoanStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// LoanDTO is a loan in API responses.
type LoanDTO struct {
	ID               string `json:"id"`
	MemberID         string `json:"member_id"`
	LoanTypeID       string `json:"loan_type_id"`
	PrincipalAmount  string `json:"principal_amount"`
	InterestAmount   string `json:"interest_amount"`
	TotalAmount      string `json:"total_amount"`
	PaidAmount       string `json:"paid_amount"`
	RemainingBalance string `json:"remaining_balance"`
	Tenure           int    `json:"tenure"`
	Status           string `json:"status"`
	NextLevel        int    `json:"next_approval_level,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// ScheduleLineDTO is one schedule row.
type ScheduleLineDTO struct {
	Sequence         int    `json:"sequence"`
	DueDate          string `json:"due_date"`
	PrincipalPortion string `json:"principal_portion"`
	InterestPortion  string `json:"interest_portion"`
	ExpectedAmount   string `json:"expected_amount"`
	PaidAmount       string `json:"paid_amount"`
	RemainingBalance string `json:"remaining_balance"`
	Status           string `json:"status"`
}

// =============================================================================
// CALCULATION AND ELIGIBILITY
// =============================================================================

// CalculateLoanRequest quotes a loan without creating anything.
type CalculateLoanRequest struct {
	LoanTypeID string `json:"loan_type_id"`
	Amount     string `json:"amount"`
	Tenure     int    `json:"tenure"`
}

// QuoteDTO is a loan quote.
type QuoteDTO struct {
	Principal      string            `json:"principal"`
	Interest       string            `json:"interest"`
	Total          string            `json:"total"`
	MonthlyPayment string            `json:"monthly_payment"`
	Tenure         int               `json:"tenure"`
	Soft           bool              `json:"soft"`
	Schedule       []ScheduleLineDTO `json:"schedule"`
}

// EligibilityRequest checks a member against a loan type.
type EligibilityRequest struct {
	MemberID   string `json:"member_id"`
	LoanTypeID string `json:"loan_type_id"`
	Amount     string `json:"amount,omitempty"`
	Tenure     int    `json:"tenure,omitempty"`
}

// EligibilityDTO is the eligibility verdict.
type EligibilityDTO struct {
	IsEligible bool   `json:"is_eligible"`
	MaxAmount  string `json:"max_amount"`
	Reason     string `json:"reason,omitempty"`
}

// =============================================================================
// REPAYMENTS AND UPLOADS
// =============================================================================

// RepaymentRequest posts a single manual repayment.
type RepaymentRequest struct {
	LoanID string `json:"loan_id"`
	Amount string `json:"amount"`
	Month  int    `json:"month"`
	Year   int    `json:"year"`
	Actor  string `json:"actor"`
}

// UploadDTO is a bulk upload audit record.
type UploadDTO struct {
	ID          string             `json:"id"`
	FileName    string             `json:"file_name,omitempty"`
	UploadedBy  string             `json:"uploaded_by"`
	Status      string             `json:"status"`
	TotalRows   int                `json:"total_rows"`
	SuccessRows int                `json:"success_rows"`
	FailedRows  []models.FailedRow `json:"failed_rows,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   string             `json:"created_at"`
	CompletedAt string             `json:"completed_at,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func moneyString(m money.Money) string { return m.StringFixed() }
