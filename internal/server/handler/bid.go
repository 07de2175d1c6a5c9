package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// BidPlacer accepts or rejects bids.
type BidPlacer interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (domain.Bid, error)
}

// BidHandler serves bid submission.
type BidHandler struct {
	ledger BidPlacer
	now    func() time.Time
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(ledger BidPlacer, logger *slog.Logger) *BidHandler {
	return &BidHandler{ledger: ledger, now: time.Now, logger: logger}
}

type placeBidRequest struct {
	BidderID string `json:"bidderId"`
	Amount   int64  `json:"amount"`
}

// PlaceBid submits a bid. Rejections carry a reason code and, for low
// bids, the current and minimum acceptable amounts.
// POST /api/auctions/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := h.ledger.PlaceBid(r.Context(), r.PathValue("id"), req.BidderID, req.Amount, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}
