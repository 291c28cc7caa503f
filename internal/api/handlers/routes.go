package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/account-ledger/internal/api/middleware"
)

// NewRouter registers every endpoint on a new mux.
func NewRouter(accounts *AccountsHandler, transactions *TransactionsHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Accounts endpoints
	mux.HandleFunc("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			accounts.ListAccounts(w, r)
		case http.MethodPost:
			accounts.OpenAccount(w, r)
		case http.MethodDelete:
			accounts.CloseAccount(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		// Extract account number from /api/accounts/{number}/transactions
		rest := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
		number, ok := strings.CutSuffix(rest, "/transactions")
		if !ok || number == "" || strings.Contains(number, "/") {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		accounts.AccountTransactions(w, r, number)
	})

	// Transactions endpoints
	mux.HandleFunc("/api/transactions/use", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			transactions.UseBalance(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			transactions.CancelBalance(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract reference from path
			reference := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
			if reference == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
				return
			}
			transactions.GetTransaction(w, r, reference)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}
