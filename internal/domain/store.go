package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AuctionTx is the view of one auction inside its serialized critical
// section. Every write is applied atomically when the enclosing Mutate
// callback returns nil and discarded otherwise.
type AuctionTx interface {
	// Auction returns the locked snapshot read at the start of the section.
	Auction() Auction
	// Sanction returns the bidder's most recent sanction, or ErrNotFound.
	Sanction(ctx context.Context, bidderID string) (BidderSanction, error)
	// InsertWinningBid clears isWinning on the previous winner and stores
	// bid as the new winner.
	InsertWinningBid(ctx context.Context, bid Bid) error
	// UpdateAuction persists the mutable fields of a.
	UpdateAuction(ctx context.Context, a Auction) error
}

// AuctionStore is the shared, transactional source of truth for auctions
// and bids.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	ListBids(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	// ListDue returns scheduled auctions whose start has passed and active
	// auctions whose end has passed, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	// Mutate runs fn while holding the per-auction lock. It returns
	// ErrNotFound when the auction does not exist.
	Mutate(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error
}

// SanctionStore manages bidder sanctions.
type SanctionStore interface {
	Put(ctx context.Context, s BidderSanction) error
	Lift(ctx context.Context, bidderID string) error
}
