package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
)

// MarketplaceQuery defines the reads the marketplace handler requires from the
// service layer.
type MarketplaceQuery interface {
	GetMarketplace(ctx context.Context, addr string) (domain.Marketplace, error)
	ListMarketplaces(ctx context.Context) ([]domain.Marketplace, error)
}

// BalanceQuery exposes the node's live balance views: spendable funds per
// identity and accrued fees per marketplace vault.
type BalanceQuery interface {
	SpendableBalance(id common.Address) uint64
	VaultBalance(marketplace address.Address) (uint64, error)
}

// MarketplaceHandler serves marketplace lifecycle and balance endpoints.
type MarketplaceHandler struct {
	submitter Submitter
	query     MarketplaceQuery
	balances  BalanceQuery
	logger    *slog.Logger
}

// NewMarketplaceHandler creates a MarketplaceHandler.
func NewMarketplaceHandler(submitter Submitter, query MarketplaceQuery, balances BalanceQuery, logger *slog.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{
		submitter: submitter,
		query:     query,
		balances:  balances,
		logger:    logHandler(logger, "marketplace"),
	}
}

// Initialize creates the marketplace singleton for the signing authority.
// POST /api/marketplace
func (h *MarketplaceHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "initialize_marketplace")
}

// WithdrawFees moves accrued fees from the vault to the authority.
// POST /api/marketplace/withdraw-fees
func (h *MarketplaceHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "withdraw_fees")
}

// Deposit credits the signer's spendable balance.
// POST /api/deposit
func (h *MarketplaceHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "deposit")
}

// List returns all mirrored marketplaces.
// GET /api/marketplace
func (h *MarketplaceHandler) List(w http.ResponseWriter, r *http.Request) {
	ms, err := h.query.ListMarketplaces(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list marketplaces failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list marketplaces")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marketplaces": ms})
}

// Get returns a single marketplace by derived address.
// GET /api/marketplace/{address}
func (h *MarketplaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing marketplace address")
		return
	}

	m, err := h.query.GetMarketplace(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// VaultBalance returns the accrued, not-yet-withdrawn fees of one marketplace.
// GET /api/marketplace/{address}/vault
func (h *MarketplaceHandler) VaultBalance(w http.ResponseWriter, r *http.Request) {
	a, err := address.FromHex(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid marketplace address")
		return
	}

	balance, err := h.balances.VaultBalance(a)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketplace": a.Hex(),
		"vault":       balance,
	})
}

// SpendableBalance returns an identity's spendable funds.
// GET /api/balances/{address}
func (h *MarketplaceHandler) SpendableBalance(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid identity address")
		return
	}

	id := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   id.Hex(),
		"spendable": h.balances.SpendableBalance(id),
	})
}
