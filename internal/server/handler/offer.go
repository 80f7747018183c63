package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// OfferQuery defines the reads the offer handler requires from the service
// layer.
type OfferQuery interface {
	GetOffer(ctx context.Context, addr string) (domain.Offer, error)
	ListOffersByProperty(ctx context.Context, property string, opts domain.ListOpts) ([]domain.Offer, error)
	ListOffersByBuyer(ctx context.Context, buyer string, opts domain.ListOpts) ([]domain.Offer, error)
}

// OfferHandler serves offer and escrow endpoints.
type OfferHandler struct {
	submitter Submitter
	query     OfferQuery
	logger    *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(submitter Submitter, query OfferQuery, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{
		submitter: submitter,
		query:     query,
		logger:    logHandler(logger, "offer"),
	}
}

// listOffersResponse wraps the list endpoint output with its paging.
type listOffersResponse struct {
	Offers []domain.Offer `json:"offers"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// MakeOffer escrows the signer's funds and creates a pending offer.
// POST /api/offers
func (h *OfferHandler) MakeOffer(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "make_offer")
}

// Respond accepts or rejects a pending offer; only the owner's signature
// passes.
// POST /api/offers/{address}/respond
func (h *OfferHandler) Respond(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "respond_to_offer")
}

// Reclaim returns escrowed funds to the buyer of an expired offer.
// POST /api/offers/{address}/reclaim
func (h *OfferHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "reclaim_expired_offer")
}

// List returns offers filtered by ?property= or ?buyer=.
// GET /api/offers
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		offers []domain.Offer
		err    error
	)
	switch {
	case q.Get("property") != "":
		offers, err = h.query.ListOffersByProperty(r.Context(), q.Get("property"), opts)
	case q.Get("buyer") != "":
		offers, err = h.query.ListOffersByBuyer(r.Context(), q.Get("buyer"), opts)
	default:
		writeError(w, http.StatusBadRequest, "property or buyer query parameter required")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list offers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list offers")
		return
	}

	writeJSON(w, http.StatusOK, listOffersResponse{
		Offers: offers,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// Get returns a single offer by its derived address.
// GET /api/offers/{address}
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing offer address")
		return
	}

	o, err := h.query.GetOffer(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
