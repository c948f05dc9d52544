/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cooperative ledger engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire processors into the registry, then the services
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: coop.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coopfin/ledger-engine/api"
	"github.com/coopfin/ledger-engine/ledger"
	"github.com/coopfin/ledger-engine/loan"
	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/notify"
	"github.com/coopfin/ledger-engine/reconcile"
	"github.com/coopfin/ledger-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "coop.db", "SQLite database path")
	flag.Parse()

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	notifier := notify.LogNotifier{}

	// Processors and registry. The loan processor owns repayment
	// allocation, so it is built around the allocator.
	allocator := loan.NewAllocator(notifier)
	admin := ledger.NewAdminProcessor()
	registry := ledger.NewRegistry(admin)
	registry.RegisterDomain(models.DomainAdmin, admin)
	registry.RegisterDomain(models.DomainSavings, ledger.NewSavingsProcessor())
	registry.RegisterDomain(models.DomainShares, ledger.NewSharesProcessor())
	registry.RegisterDomain(models.DomainLoan, loan.NewProcessor(allocator))

	// Services
	txns := ledger.NewService(store, registry)
	eligibility := loan.NewEligibilityEngine(store)
	lifecycle := loan.NewLifecycleService(store, txns, eligibility, notifier)
	repayments := loan.NewRepaymentService(txns)
	pipeline := reconcile.NewPipeline(store, repayments, reconcile.CSVReader{})

	// HTTP
	handler := api.NewHandler(store, txns, lifecycle, repayments, eligibility, pipeline)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
