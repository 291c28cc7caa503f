package handlers

import (
	"net/http"

	"github.com/dvloznov/account-ledger/internal/api/middleware"
	"github.com/dvloznov/account-ledger/internal/logger"
	"github.com/dvloznov/account-ledger/internal/transaction"
)

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	transactions TransactionService
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(transactions TransactionService) *TransactionsHandler {
	return &TransactionsHandler{transactions: transactions}
}

// UseBalance handles POST /api/transactions/use
// A rejected use that got as far as resolving the account is recorded as a
// FAILED transaction before the original error is returned.
func (h *TransactionsHandler) UseBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        int64  `json:"user_id" validate:"min=1"`
		AccountNumber string `json:"account_number" validate:"len=10,number"`
		Amount        int64  `json:"amount" validate:"min=10,max=1000000000"`
	}
	if msg, ok := decodeRequest(r, &req); !ok {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)

	tx, err := h.transactions.UseBalance(ctx, req.UserID, req.AccountNumber, req.Amount)
	if err != nil {
		if transaction.FailureRecordable(err) {
			if _, recErr := h.transactions.RecordFailedUse(ctx, req.AccountNumber, req.Amount); recErr != nil {
				log.Error().Err(recErr).Str("account_number", req.AccountNumber).Msg("Failed to record failed use")
			}
		}
		writeOpError(w, log, "use_balance", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// CancelBalance handles POST /api/transactions/cancel
func (h *TransactionsHandler) CancelBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id" validate:"required"`
		AccountNumber string `json:"account_number" validate:"len=10,number"`
		Amount        int64  `json:"amount" validate:"min=10,max=1000000000"`
	}
	if msg, ok := decodeRequest(r, &req); !ok {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)

	tx, err := h.transactions.CancelBalance(ctx, req.TransactionID, req.AccountNumber, req.Amount)
	if err != nil {
		if transaction.FailureRecordable(err) {
			if _, recErr := h.transactions.RecordFailedCancel(ctx, req.AccountNumber, req.Amount); recErr != nil {
				log.Error().Err(recErr).Str("account_number", req.AccountNumber).Msg("Failed to record failed cancel")
			}
		}
		writeOpError(w, log, "cancel_balance", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// GetTransaction handles GET /api/transactions/{reference}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request, reference string) {
	tx, err := h.transactions.QueryTransaction(r.Context(), reference)
	if err != nil {
		writeOpError(w, logger.FromContext(r.Context()), "query_transaction", err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}
