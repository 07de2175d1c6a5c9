package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/service"
)

// AuctionService is what the auction handler needs from the service layer.
type AuctionService interface {
	Create(ctx context.Context, in service.CreateAuctionInput, now time.Time) (domain.Auction, error)
	Get(ctx context.Context, id string) (domain.Auction, error)
	ListBids(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Bid, error)
	Cancel(ctx context.Context, id string, now time.Time) (domain.Auction, error)
}

// AuctionHandler serves auction CRUD endpoints.
type AuctionHandler struct {
	auctions AuctionService
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, now: time.Now, logger: logger}
}

// auctionView adds the extension window in whole seconds.
type auctionView struct {
	domain.Auction
	ExtensionWindowSeconds int64 `json:"extensionWindowSeconds"`
}

func viewOf(a domain.Auction) auctionView {
	return auctionView{Auction: a, ExtensionWindowSeconds: int64(a.ExtensionWindow / time.Second)}
}

type createAuctionRequest struct {
	ProductID              string    `json:"productId"`
	SellerID               string    `json:"sellerId"`
	StartingPrice          int64     `json:"startingPrice"`
	ReservePrice           *int64    `json:"reservePrice"`
	BuyNowPrice            *int64    `json:"buyNowPrice"`
	BidIncrement           int64     `json:"bidIncrement"`
	StartsAt               time.Time `json:"startsAt"`
	EndsAt                 time.Time `json:"endsAt"`
	ExtensionWindowSeconds int64     `json:"extensionWindowSeconds"`
}

// CreateAuction schedules a new auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExtensionWindowSeconds < 0 {
		writeError(w, http.StatusBadRequest, "extensionWindowSeconds must be >= 0")
		return
	}

	a, err := h.auctions.Create(r.Context(), service.CreateAuctionInput{
		ProductID:       req.ProductID,
		SellerID:        req.SellerID,
		StartingPrice:   req.StartingPrice,
		ReservePrice:    req.ReservePrice,
		BuyNowPrice:     req.BuyNowPrice,
		BidIncrement:    req.BidIncrement,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
		ExtensionWindow: time.Duration(req.ExtensionWindowSeconds) * time.Second,
	}, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(a))
}

// GetAuction returns one auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

type listBidsResponse struct {
	Bids   []domain.Bid `json:"bids"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ListBids returns the bid history, newest first.
// GET /api/auctions/{id}/bids?limit=50&offset=0
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	bids, err := h.auctions.ListBids(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids, Limit: opts.Limit, Offset: opts.Offset})
}

// CancelAuction withdraws a scheduled auction.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Cancel(r.Context(), r.PathValue("id"), h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "cancel auction", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}
