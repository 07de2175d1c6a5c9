package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// SanctionService bars and reinstates bidders.
type SanctionService interface {
	Sanction(ctx context.Context, bidderID, reason string, until *time.Time, now time.Time) error
	LiftSanction(ctx context.Context, bidderID string) error
}

// SanctionHandler serves the bidder sanction admin endpoints.
type SanctionHandler struct {
	sanctions SanctionService
	now       func() time.Time
	logger    *slog.Logger
}

// NewSanctionHandler creates a SanctionHandler.
func NewSanctionHandler(sanctions SanctionService, logger *slog.Logger) *SanctionHandler {
	return &SanctionHandler{sanctions: sanctions, now: time.Now, logger: logger}
}

type sanctionRequest struct {
	BidderID string     `json:"bidderId"`
	Reason   string     `json:"reason"`
	Until    *time.Time `json:"until"`
}

// PutSanction POST /api/sanctions
func (h *SanctionHandler) PutSanction(w http.ResponseWriter, r *http.Request) {
	var req sanctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sanctions.Sanction(r.Context(), req.BidderID, req.Reason, req.Until, h.now()); err != nil {
		writeDomainError(w, r, h.logger, "sanction bidder", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// LiftSanction DELETE /api/sanctions/{bidderId}
func (h *SanctionHandler) LiftSanction(w http.ResponseWriter, r *http.Request) {
	if err := h.sanctions.LiftSanction(r.Context(), r.PathValue("bidderId")); err != nil {
		writeDomainError(w, r, h.logger, "lift sanction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
