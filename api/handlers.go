/*
handlers.go - HTTP API handlers for the cooperative ledger engine

PURPOSE:
  Exposes the ledger and loan services via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the services.
  No business rule lives here.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                Create ledger entry
    GET    /api/transactions/{id}           Entry details
    GET    /api/transactions/{id}/history   Entry status history
    POST   /api/transactions/{id}/status    Status transition
    POST   /api/transactions/{id}/reverse   Reverse a COMPLETED entry

  Loans:
    POST   /api/loans                       Apply for a loan
    GET    /api/loans/{id}                  Loan details
    GET    /api/loans/{id}/schedule         Amortization schedule
    GET    /api/loans/{id}/history          Loan status history
    POST   /api/loans/{id}/approve          Approve pending ladder step
    POST   /api/loans/{id}/reject           Reject application
    POST   /api/loans/{id}/status           Operational status move
    POST   /api/loans/calculate             Quote without side effects
    POST   /api/loans/eligibility           Eligibility pre-check

  Repayments:
    POST   /api/repayments                  Single manual repayment
    POST   /api/repayments/bulk             Bulk CSV upload
    GET    /api/uploads                     Recent upload records
    GET    /api/uploads/{id}                Upload record with failed rows

  Members:
    GET    /api/members/{id}/transactions   Member's recent entries

ERROR HANDLING:
  Every service error already carries a stable code (models.CodeOf); the
  handlers map codes to HTTP status and return the uniform ErrorResponse
  body:
  - VALIDATION                400
  - NOT_FOUND                 404
  - INVALID_STATE_TRANSITION  409
  - DUPLICATE                 409
  - ALREADY_REVERSED          409
  - INSUFFICIENT_FUNDS        422
  - PROCESSING (and unknown)  500

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coopfin/ledger-engine/ledger"
	"github.com/coopfin/ledger-engine/loan"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
	"github.com/coopfin/ledger-engine/reconcile"
)

// maxUploadBytes caps bulk upload request bodies.
const maxUploadBytes = 10 << 20

// Handler holds all service dependencies for HTTP handlers.
type Handler struct {
	Store       models.Store
	Txns        *ledger.Service
	Lifecycle   *loan.LifecycleService
	Repayments  *loan.RepaymentService
	Eligibility *loan.EligibilityEngine
	Pipeline    *reconcile.Pipeline
}

// NewHandler creates a handler over the wired services.
func NewHandler(store models.Store, txns *ledger.Service, lifecycle *loan.LifecycleService,
	repayments *loan.RepaymentService, eligibility *loan.EligibilityEngine,
	pipeline *reconcile.Pipeline) *Handler {
	return &Handler{
		Store:       store,
		Txns:        txns,
		Lifecycle:   lifecycle,
		Repayments:  repayments,
		Eligibility: eligibility,
		Pipeline:    pipeline,
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction creates a ledger entry.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member_id", err)
		return
	}

	draft := &models.LedgerEntry{
		Kind:        models.EntryKind(req.Kind),
		Direction:   models.Direction(req.Direction),
		Amount:      amount,
		MemberID:    memberID,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	}
	if err := bindRelation(draft, req.LoanID, req.SavingsID, req.SharesID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid relation id", err)
		return
	}
	if draft.Kind == models.KindAdjustment {
		draft.Metadata = models.AdjustmentMetadata{
			Reason:       req.Reason,
			AuthorizedBy: req.AuthorizedBy,
		}
	}

	e, err := h.Txns.Create(r.Context(), draft, req.AutoComplete)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(e))
}

// GetTransaction returns one entry.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	e, err := h.Txns.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(e))
}

// GetTransactionHistory returns an entry's status history.
// GET /api/transactions/{id}/history
func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.Txns.StatusHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]StatusChangeDTO, 0, len(history))
	for _, c := range history {
		dtos = append(dtos, StatusChangeDTO{
			From: string(c.From), To: string(c.To),
			Actor: c.Actor, Notes: c.Notes,
			ChangedAt: c.ChangedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateTransactionStatus moves an entry through the state table.
// POST /api/transactions/{id}/status
func (h *Handler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateTransactionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	e, err := h.Txns.Transition(r.Context(), id, models.EntryStatus(req.Status), req.Actor, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(e))
}

// ReverseTransaction reverses a COMPLETED entry.
// POST /api/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReverseTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	reversal, err := h.Txns.Reverse(r.Context(), id, req.Reason, req.Actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(reversal))
}

// ListMemberTransactions returns a member's recent entries.
// GET /api/members/{id}/transactions
func (h *Handler) ListMemberTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.Txns.ListByMember(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toTransactionDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ApplyForLoan takes a loan application.
// POST /api/loans
func (h *Handler) ApplyForLoan(w http.ResponseWriter, r *http.Request) {
	var req LoanApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member_id", err)
		return
	}
	typeID, err := uuid.Parse(req.LoanTypeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan_type_id", err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	l, err := h.Lifecycle.Apply(r.Context(), loan.Application{
		MemberID:   memberID,
		LoanTypeID: typeID,
		Amount:     amount,
		Tenure:     req.Tenure,
		Purpose:    req.Purpose,
		AppliedBy:  req.AppliedBy,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(l))
}

// GetLoan returns one loan.
// GET /api/loans/{id}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	l, err := h.Lifecycle.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// GetLoanSchedule returns a loan's schedule in due-date order.
// GET /api/loans/{id}/schedule
func (h *Handler) GetLoanSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.Lifecycle.Schedules(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]ScheduleLineDTO, 0, len(rows))
	for _, s := range rows {
		dtos = append(dtos, ScheduleLineDTO{
			Sequence:         s.Sequence,
			DueDate:          s.DueDate.Format("2006-01-02"),
			PrincipalPortion: moneyString(s.PrincipalPortion),
			InterestPortion:  moneyString(s.InterestPortion),
			ExpectedAmount:   moneyString(s.ExpectedAmount),
			PaidAmount:       moneyString(s.PaidAmount),
			RemainingBalance: moneyString(s.RemainingBalance),
			Status:           string(s.Status),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoanHistory returns a loan's status history.
// GET /api/loans/{id}/history
func (h *Handler) GetLoanHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.Lifecycle.StatusHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]StatusChangeDTO, 0, len(history))
	for _, c := range history {
		dtos = append(dtos, StatusChangeDTO{
			From: string(c.From), To: string(c.To),
			Actor: c.Actor, Notes: c.Reason,
			ChangedAt: c.ChangedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveLoan resolves the pending approval step at the given level.
// POST /api/loans/{id}/approve
func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ApproveLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	l, err := h.Lifecycle.Approve(r.Context(), id, models.ApprovalLevel(req.Level), req.Actor, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// RejectLoan terminates an application.
// POST /api/loans/{id}/reject
func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req RejectLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	l, err := h.Lifecycle.Reject(r.Context(), id, req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// UpdateLoanStatus applies an operational status move.
// POST /api/loans/{id}/status
func (h *Handler) UpdateLoanStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateLoanStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	l, err := h.Lifecycle.UpdateStatus(r.Context(), id, models.LoanStatus(req.Status), req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// CalculateLoan quotes a loan with no side effects.
// POST /api/loans/calculate
func (h *Handler) CalculateLoan(w http.ResponseWriter, r *http.Request) {
	var req CalculateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	typeID, err := uuid.Parse(req.LoanTypeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan_type_id", err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	lt, err := h.Store.LoanTypes().Get(r.Context(), typeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if lt == nil {
		writeServiceError(w, &models.NotFoundError{Entity: "loan type", ID: req.LoanTypeID})
		return
	}
	quote, err := loan.Calculate(lt, amount, req.Tenure, models.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	lines := make([]ScheduleLineDTO, 0, len(quote.Schedule))
	for _, line := range quote.Schedule {
		lines = append(lines, ScheduleLineDTO{
			Sequence:         line.Sequence,
			DueDate:          line.PaymentDate.Format("2006-01-02"),
			PrincipalPortion: moneyString(line.Principal),
			InterestPortion:  moneyString(line.Interest),
			ExpectedAmount:   moneyString(line.Expected),
		})
	}
	writeJSON(w, http.StatusOK, QuoteDTO{
		Principal:      moneyString(quote.Principal),
		Interest:       moneyString(quote.Interest),
		Total:          moneyString(quote.Total),
		MonthlyPayment: moneyString(quote.MonthlyPayment),
		Tenure:         quote.Tenure,
		Soft:           quote.Soft,
		Schedule:       lines,
	})
}

// CheckEligibility runs the eligibility pre-check.
// POST /api/loans/eligibility
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req EligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member_id", err)
		return
	}
	typeID, err := uuid.Parse(req.LoanTypeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan_type_id", err)
		return
	}
	amount := money.Zero()
	if req.Amount != "" {
		if amount, err = money.Parse(req.Amount); err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount", err)
			return
		}
	}

	elig, err := h.Eligibility.Check(r.Context(), memberID, typeID, amount, req.Tenure)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EligibilityDTO{
		IsEligible: elig.IsEligible,
		MaxAmount:  moneyString(elig.MaxAmount),
		Reason:     elig.Reason,
	})
}

// =============================================================================
// REPAYMENT HANDLERS
// =============================================================================

// CreateRepayment posts a single manual repayment.
// POST /api/repayments
func (h *Handler) CreateRepayment(w http.ResponseWriter, r *http.Request) {
	var req RepaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	loanID, err := uuid.Parse(req.LoanID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan_id", err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	e, err := h.Repayments.Apply(r.Context(), loanID, amount, req.Month, req.Year, "manual", req.Actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(e))
}

// UploadBulkRepayments runs the reconciliation pipeline over a CSV body.
// POST /api/repayments/bulk?file_name=...&uploaded_by=...
func (h *Handler) UploadBulkRepayments(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload body", err)
		return
	}
	fileName := r.URL.Query().Get("file_name")
	uploadedBy := r.URL.Query().Get("uploaded_by")

	upload, err := h.Pipeline.Process(r.Context(), fileName, data, uploadedBy)
	if upload == nil && err != nil {
		writeServiceError(w, err)
		return
	}
	// Partial success is still success: the audit record carries the
	// per-row outcomes.
	writeJSON(w, http.StatusOK, toUploadDTO(upload))
}

// GetUpload returns one upload audit record.
// GET /api/uploads/{id}
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	u, err := h.Store.Uploads().Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if u == nil {
		writeServiceError(w, &models.NotFoundError{Entity: "upload", ID: id.String()})
		return
	}
	writeJSON(w, http.StatusOK, toUploadDTO(u))
}

// ListUploads returns recent upload records.
// GET /api/uploads?limit=50
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	uploads, err := h.Store.Uploads().List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]UploadDTO, 0, len(uploads))
	for _, u := range uploads {
		dtos = append(dtos, toUploadDTO(u))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MAPPERS AND HELPERS
// =============================================================================

func toTransactionDTO(e *models.LedgerEntry) TransactionDTO {
	dto := TransactionDTO{
		ID:           e.ID.String(),
		Kind:         string(e.Kind),
		Direction:    string(e.Direction),
		Domain:       string(e.Domain),
		Amount:       moneyString(e.Amount),
		BalanceAfter: moneyString(e.BalanceAfter),
		Status:       string(e.Status),
		MemberID:     e.MemberID.String(),
		Description:  e.Description,
		CreatedBy:    e.CreatedBy,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.Format(time.RFC3339),
	}
	if e.LoanID != nil {
		dto.LoanID = e.LoanID.String()
	}
	if e.SavingsID != nil {
		dto.SavingsID = e.SavingsID.String()
	}
	if e.SharesID != nil {
		dto.SharesID = e.SharesID.String()
	}
	if e.ParentEntryID != nil {
		dto.ParentEntryID = e.ParentEntryID.String()
	}
	return dto
}

func toLoanDTO(l *models.Loan) LoanDTO {
	return LoanDTO{
		ID:               l.ID.String(),
		MemberID:         l.MemberID.String(),
		LoanTypeID:       l.LoanTypeID.String(),
		PrincipalAmount:  moneyString(l.PrincipalAmount),
		InterestAmount:   moneyString(l.InterestAmount),
		TotalAmount:      moneyString(l.TotalAmount),
		PaidAmount:       moneyString(l.PaidAmount),
		RemainingBalance: moneyString(l.RemainingBalance),
		Tenure:           l.Tenure,
		Status:           string(l.Status),
		NextLevel:        int(l.NextApprovalLevel),
		Purpose:          l.Purpose,
		CreatedAt:        l.CreatedAt.Format(time.RFC3339),
	}
}

func toUploadDTO(u *models.BulkRepaymentUpload) UploadDTO {
	dto := UploadDTO{
		ID:          u.ID.String(),
		FileName:    u.FileName,
		UploadedBy:  u.UploadedBy,
		Status:      string(u.Status),
		TotalRows:   u.TotalRows,
		SuccessRows: u.SuccessRows,
		FailedRows:  u.FailedRows,
		Error:       u.Error,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
	if u.CompletedAt != nil {
		dto.CompletedAt = u.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func bindRelation(e *models.LedgerEntry, loanID, savingsID, sharesID string) error {
	if loanID != "" {
		id, err := uuid.Parse(loanID)
		if err != nil {
			return err
		}
		e.LoanID = &id
	}
	if savingsID != "" {
		id, err := uuid.Parse(savingsID)
		if err != nil {
			return err
		}
		e.SavingsID = &id
	}
	if sharesID != "" {
		id, err := uuid.Parse(sharesID)
		if err != nil {
			return err
		}
		e.SharesID = &id
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param, err)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Code: string(models.CodeValidation), Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the error taxonomy to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case models.CodeValidation:
		status = http.StatusBadRequest
	case models.CodeNotFound:
		status = http.StatusNotFound
	case models.CodeInvalidStateTransition, models.CodeDuplicate, models.CodeAlreadyReversed:
		status = http.StatusConflict
	case models.CodeInsufficientFunds:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Error: err.Error()})
}
