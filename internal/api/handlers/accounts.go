package handlers

import (
	"net/http"
	"strconv"

	"github.com/dvloznov/account-ledger/internal/api/middleware"
	"github.com/dvloznov/account-ledger/internal/logger"
)

// AccountsHandler handles account-related endpoints.
type AccountsHandler struct {
	accounts     AccountService
	transactions TransactionService
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(accounts AccountService, transactions TransactionService) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, transactions: transactions}
}

// OpenAccount handles POST /api/accounts
func (h *AccountsHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         int64  `json:"user_id" validate:"min=1"`
		InitialBalance *int64 `json:"initial_balance" validate:"required,min=0"`
	}
	if msg, ok := decodeRequest(r, &req); !ok {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	acc, err := h.accounts.Open(r.Context(), req.UserID, *req.InitialBalance)
	if err != nil {
		writeOpError(w, logger.FromContext(r.Context()), "open_account", err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, acc)
}

// CloseAccount handles DELETE /api/accounts
func (h *AccountsHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        int64  `json:"user_id" validate:"min=1"`
		AccountNumber string `json:"account_number" validate:"len=10,number"`
	}
	if msg, ok := decodeRequest(r, &req); !ok {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	acc, err := h.accounts.Close(r.Context(), req.UserID, req.AccountNumber)
	if err != nil {
		writeOpError(w, logger.FromContext(r.Context()), "close_account", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, acc)
}

// ListAccounts handles GET /api/accounts?user_id=
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID < 1 {
		middleware.WriteError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	accounts, err := h.accounts.ListByOwner(r.Context(), userID)
	if err != nil {
		writeOpError(w, logger.FromContext(r.Context()), "list_accounts", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// AccountTransactions handles GET /api/accounts/{number}/transactions
func (h *AccountsHandler) AccountTransactions(w http.ResponseWriter, r *http.Request, number string) {
	history, err := h.transactions.History(r.Context(), number)
	if err != nil {
		writeOpError(w, logger.FromContext(r.Context()), "account_transactions", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"account_number": number,
		"transactions":   history,
		"count":          len(history),
	})
}
