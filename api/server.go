/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/transactions/*   Ledger entries
  /api/loans/*          Loan lifecycle, calculation, eligibility
  /api/repayments/*     Single and bulk repayments
  /api/uploads/*        Bulk upload audit records
  /api/members/*        Member transaction history
  /health               Liveness probe

SECURITY NOTE:
  No authentication middleware. Deployment sits behind the cooperative's
  gateway, which owns sessions and tokens.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Ledger entries
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Get("/{id}/history", h.GetTransactionHistory)
			r.Post("/{id}/status", h.UpdateTransactionStatus)
			r.Post("/{id}/reverse", h.ReverseTransaction)
		})

		// Loan lifecycle
		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.ApplyForLoan)
			r.Post("/calculate", h.CalculateLoan)
			r.Post("/eligibility", h.CheckEligibility)
			r.Get("/{id}", h.GetLoan)
			r.Get("/{id}/schedule", h.GetLoanSchedule)
			r.Get("/{id}/history", h.GetLoanHistory)
			r.Post("/{id}/approve", h.ApproveLoan)
			r.Post("/{id}/reject", h.RejectLoan)
			r.Post("/{id}/status", h.UpdateLoanStatus)
		})

		// Repayments
		r.Route("/repayments", func(r chi.Router) {
			r.Post("/", h.CreateRepayment)
			r.Post("/bulk", h.UploadBulkRepayments)
		})

		// Upload audit records
		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", h.ListUploads)
			r.Get("/{id}", h.GetUpload)
		})

		// Member views
		r.Route("/members", func(r chi.Router) {
			r.Get("/{id}/transactions", h.ListMemberTransactions)
		})
	})

	return r
}
