package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// CreateAuctionInput is the seller-supplied part of a new auction.
type CreateAuctionInput struct {
	ProductID       string
	SellerID        string
	StartingPrice   int64
	ReservePrice    *int64
	BuyNowPrice     *int64
	BidIncrement    int64
	StartsAt        time.Time
	EndsAt          time.Time
	ExtensionWindow time.Duration
}

// AuctionService handles auction CRUD and bidder sanctions. State
// transitions are delegated to Lifecycle.
type AuctionService struct {
	auctions  domain.AuctionStore
	sanctions domain.SanctionStore
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(
	auctions domain.AuctionStore,
	sanctions domain.SanctionStore,
	lifecycle *Lifecycle,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		auctions:  auctions,
		sanctions: sanctions,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "auction_service")),
	}
}

// Create validates and stores a new scheduled auction.
func (s *AuctionService) Create(ctx context.Context, in CreateAuctionInput, now time.Time) (domain.Auction, error) {
	now = now.UTC()
	a := domain.Auction{
		ID:              uuid.NewString(),
		ProductID:       in.ProductID,
		SellerID:        in.SellerID,
		StartingPrice:   in.StartingPrice,
		ReservePrice:    in.ReservePrice,
		BuyNowPrice:     in.BuyNowPrice,
		BidIncrement:    in.BidIncrement,
		StartsAt:        in.StartsAt.UTC(),
		EndsAt:          in.EndsAt.UTC(),
		ExtensionWindow: in.ExtensionWindow,
		Status:          domain.AuctionScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.Validate(); err != nil {
		return domain.Auction{}, err
	}
	if !a.EndsAt.After(now) {
		return domain.Auction{}, fmt.Errorf("%w: ends_at must be in the future", domain.ErrInvalidAuction)
	}

	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create: %w", err)
	}
	s.logger.InfoContext(ctx, "auction_service: auction created",
		slog.String("auction_id", a.ID),
		slog.String("product_id", a.ProductID),
		slog.Time("starts_at", a.StartsAt),
		slog.Time("ends_at", a.EndsAt),
	)
	return a, nil
}

// Get returns an auction by id.
func (s *AuctionService) Get(ctx context.Context, id string) (domain.Auction, error) {
	a, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: get %s: %w", id, err)
	}
	return a, nil
}

// ListBids returns an auction's bid history, newest first.
func (s *AuctionService) ListBids(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Bid, error) {
	if _, err := s.auctions.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("auction_service: list bids %s: %w", id, err)
	}
	bids, err := s.auctions.ListBids(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list bids %s: %w", id, err)
	}
	return bids, nil
}

// Cancel withdraws a scheduled auction.
func (s *AuctionService) Cancel(ctx context.Context, id string, now time.Time) (domain.Auction, error) {
	return s.lifecycle.Cancel(ctx, id, now)
}

// Sanction bars bidderID from bidding until until (indefinitely when nil).
func (s *AuctionService) Sanction(ctx context.Context, bidderID, reason string, until *time.Time, now time.Time) error {
	if bidderID == "" {
		return fmt.Errorf("auction_service: sanction: %w: bidder id is required", domain.ErrInvalidBid)
	}
	sn := domain.BidderSanction{BidderID: bidderID, Reason: reason, Until: until, CreatedAt: now.UTC()}
	if err := s.sanctions.Put(ctx, sn); err != nil {
		return fmt.Errorf("auction_service: sanction %s: %w", bidderID, err)
	}
	s.logger.InfoContext(ctx, "auction_service: bidder sanctioned",
		slog.String("bidder_id", bidderID),
		slog.String("reason", reason),
	)
	return nil
}

// LiftSanction removes bidderID's sanction.
func (s *AuctionService) LiftSanction(ctx context.Context, bidderID string) error {
	if err := s.sanctions.Lift(ctx, bidderID); err != nil {
		return fmt.Errorf("auction_service: lift sanction %s: %w", bidderID, err)
	}
	return nil
}
