package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// PropertyQuery defines the reads the property handler requires from the
// service layer.
type PropertyQuery interface {
	GetProperty(ctx context.Context, addr string) (domain.Property, error)
	ListActiveProperties(ctx context.Context, marketplace string, opts domain.ListOpts) ([]domain.Property, error)
	ListPropertiesByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Property, error)
}

// PropertyHandler serves property listing endpoints.
type PropertyHandler struct {
	submitter Submitter
	query     PropertyQuery
	logger    *slog.Logger
}

// NewPropertyHandler creates a PropertyHandler.
func NewPropertyHandler(submitter Submitter, query PropertyQuery, logger *slog.Logger) *PropertyHandler {
	return &PropertyHandler{
		submitter: submitter,
		query:     query,
		logger:    logHandler(logger, "property"),
	}
}

// listPropertiesResponse wraps the list endpoint output with its paging.
type listPropertiesResponse struct {
	Properties []domain.Property `json:"properties"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// ListProperty mints the property's asset and creates the listing.
// POST /api/properties
func (h *PropertyHandler) ListProperty(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "list_property")
}

// UpdateProperty overwrites the listing's mutable fields.
// PATCH /api/properties/{address}
func (h *PropertyHandler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	handleSubmit(w, r, h.submitter, h.logger, "update_property")
}

// List returns properties filtered by ?marketplace= or ?owner=.
// GET /api/properties
func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		properties []domain.Property
		err        error
	)
	switch {
	case q.Get("owner") != "":
		properties, err = h.query.ListPropertiesByOwner(r.Context(), q.Get("owner"), opts)
	case q.Get("marketplace") != "":
		properties, err = h.query.ListActiveProperties(r.Context(), q.Get("marketplace"), opts)
	default:
		writeError(w, http.StatusBadRequest, "marketplace or owner query parameter required")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list properties failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list properties")
		return
	}

	writeJSON(w, http.StatusOK, listPropertiesResponse{
		Properties: properties,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	})
}

// Get returns a single property by its derived address.
// GET /api/properties/{address}
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing property address")
		return
	}

	p, err := h.query.GetProperty(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
