package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// TransactionQuery defines the reads the transaction handler requires from the
// service layer.
type TransactionQuery interface {
	ListTransactionsByProperty(ctx context.Context, property string, opts domain.ListOpts) ([]domain.TransactionRecord, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]domain.TransactionRecord, error)
}

// TransactionHandler serves the completed-sale history endpoints.
type TransactionHandler struct {
	query  TransactionQuery
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(query TransactionQuery, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		query:  query,
		logger: logHandler(logger, "transaction"),
	}
}

// List returns sale records, filtered by ?property= or the most recent sales
// across the marketplace when no filter is given.
// GET /api/transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		transactions []domain.TransactionRecord
		err          error
	)
	if property := r.URL.Query().Get("property"); property != "" {
		transactions, err = h.query.ListTransactionsByProperty(r.Context(), property, opts)
	} else {
		transactions, err = h.query.ListRecentTransactions(r.Context(), opts.Limit)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list transactions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}
