package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarketd/internal/domain"
	"github.com/deedmarket/deedmarketd/internal/protocol"
)

// Submitter is the write path the mutating handlers require from the service
// layer. It is declared locally so the handler package does not depend on the
// concrete service implementation.
type Submitter interface {
	Submit(ctx context.Context, instruction, signature []byte) (*protocol.Receipt, error)
}

// receiptResponse is the JSON shape of a committed operation.
type receiptResponse struct {
	Operation   string                    `json:"operation"`
	Marketplace *domain.Marketplace       `json:"marketplace,omitempty"`
	Property    *domain.Property          `json:"property,omitempty"`
	Offer       *domain.Offer             `json:"offer,omitempty"`
	Escrow      *domain.Escrow            `json:"escrow,omitempty"`
	Transaction *domain.TransactionRecord `json:"transaction,omitempty"`
	Events      []domain.Event            `json:"events"`
}

// handleSubmit decodes a signed-instruction envelope, checks that the
// instruction is one of the operations this endpoint serves, and submits it.
// The operation check happens before Submit so a request posted to the wrong
// endpoint is rejected without committing anything.
func handleSubmit(w http.ResponseWriter, r *http.Request, svc Submitter, logger *slog.Logger, allowed ...string) {
	instruction, signature, err := decodeSubmitRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ix, err := protocol.Decode(instruction)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ok := false
	for _, name := range allowed {
		if ix.Name() == name {
			ok = true
			break
		}
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "instruction does not match endpoint")
		return
	}

	receipt, err := svc.Submit(r.Context(), instruction, signature)
	if err != nil {
		logger.WarnContext(r.Context(), "handler: submit rejected",
			slog.String("operation", ix.Name()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		Operation:   receipt.Operation,
		Marketplace: receipt.Marketplace,
		Property:    receipt.Property,
		Offer:       receipt.Offer,
		Escrow:      receipt.Escrow,
		Transaction: receipt.Transaction,
		Events:      receipt.Events,
	})
}
