package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// BidLedgerConfig tunes bid admission.
type BidLedgerConfig struct {
	BidLimit     int           // bids per bidder per window
	BidWindow    time.Duration // rate-limit window
	StoreTimeout time.Duration // deadline for the whole store transaction
	RoomGrace    time.Duration // room membership kept after an auction ends
}

// BidLedger is the single authority that accepts or rejects bids. Each bid
// is decided inside one store transaction holding the auction's row lock,
// and events are emitted only after that transaction commits.
type BidLedger struct {
	store   domain.AuctionStore
	limiter domain.RateLimiter
	events  domain.EventEmitter
	rooms   domain.RoomRegistry
	cfg     BidLedgerConfig
	newID   func() string
	logger  *slog.Logger
}

// NewBidLedger creates a BidLedger.
func NewBidLedger(
	store domain.AuctionStore,
	limiter domain.RateLimiter,
	events domain.EventEmitter,
	cfg BidLedgerConfig,
	logger *slog.Logger,
) *BidLedger {
	return &BidLedger{
		store:   store,
		limiter: limiter,
		events:  events,
		cfg:     cfg,
		newID:   uuid.NewString,
		logger:  logger.With(slog.String("component", "bid_ledger")),
	}
}

// WithRoomRegistry lets a buy-now that ends the auction pin the room's
// membership expiry the same way the lifecycle sweep does.
func (l *BidLedger) WithRoomRegistry(rooms domain.RoomRegistry) *BidLedger {
	l.rooms = rooms
	return l
}

// bidOutcome is what the transaction decided, captured for post-commit
// emission.
type bidOutcome struct {
	bid        domain.Bid
	auction    domain.Auction
	activated  bool
	newEndsAt  *time.Time
	buyNow     bool
	prevBidder string
}

// PlaceBid validates and records a bid placed at now.
func (l *BidLedger) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (domain.Bid, error) {
	switch {
	case auctionID == "":
		return domain.Bid{}, domain.Reject(domain.ErrInvalidBid, "auction id is required")
	case bidderID == "":
		return domain.Bid{}, domain.Reject(domain.ErrInvalidBid, "bidder id is required")
	case amount <= 0:
		return domain.Bid{}, domain.Reject(domain.ErrInvalidBid, "amount must be positive")
	}
	now = now.UTC()

	if err := l.checkRate(ctx, bidderID); err != nil {
		return domain.Bid{}, err
	}

	storeCtx := ctx
	if l.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, l.cfg.StoreTimeout)
		defer cancel()
	}

	var out bidOutcome
	err := l.store.Mutate(storeCtx, auctionID, func(tx domain.AuctionTx) error {
		var err error
		out, err = l.decide(storeCtx, tx, bidderID, amount, now)
		return err
	})
	if err != nil {
		return domain.Bid{}, l.classify(ctx, auctionID, bidderID, err)
	}

	l.logger.InfoContext(ctx, "bid_ledger: bid accepted",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount", amount),
		slog.Bool("buy_now", out.buyNow),
	)
	l.emitAccepted(ctx, out, now)
	return out.bid, nil
}

func (l *BidLedger) checkRate(ctx context.Context, bidderID string) error {
	if l.limiter == nil || l.cfg.BidLimit <= 0 {
		return nil
	}
	allowed, err := l.limiter.Allow(ctx, domain.RateLimitKey(bidderID, "bid"), l.cfg.BidLimit, l.cfg.BidWindow)
	if err != nil {
		// The limiter only protects against abuse; an outage must not stop
		// bidding.
		l.logger.WarnContext(ctx, "bid_ledger: rate limiter unavailable, allowing bid",
			slog.String("bidder_id", bidderID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// decide runs inside the auction's critical section.
func (l *BidLedger) decide(ctx context.Context, tx domain.AuctionTx, bidderID string, amount int64, now time.Time) (bidOutcome, error) {
	a := tx.Auction()
	var out bidOutcome

	if a.Status == domain.AuctionScheduled && !now.Before(a.StartsAt) && now.Before(a.EndsAt) {
		a.Status = domain.AuctionActive
		out.activated = true
	}
	if a.Status != domain.AuctionActive {
		return out, domain.Reject(domain.ErrAuctionNotActive, "auction %s is %s", a.ID, a.Status)
	}
	if !a.AcceptsBidsAt(now) {
		return out, domain.Reject(domain.ErrAuctionNotActive, "auction %s accepts bids in [%s, %s)",
			a.ID, a.StartsAt.Format(time.RFC3339), a.EndsAt.Format(time.RFC3339))
	}

	if a.SellerID != "" && a.SellerID == bidderID {
		return out, domain.Reject(domain.ErrBidderIneligible, "seller cannot bid on own auction")
	}
	sanction, err := tx.Sanction(ctx, bidderID)
	switch {
	case err == nil && sanction.ActiveAt(now):
		return out, domain.Reject(domain.ErrBidderIneligible, "bidder %s is sanctioned", bidderID)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return out, err
	}

	minimum := a.MinimumNextBid()
	if amount < minimum {
		rej := domain.Reject(domain.ErrBidTooLow, "minimum acceptable bid is %d", minimum)
		rej.CurrentBid = a.CurrentBid
		rej.MinimumBid = minimum
		return out, rej
	}

	if a.CurrentBidderID != nil {
		out.prevBidder = *a.CurrentBidderID
	}

	bid := domain.Bid{
		ID:        l.newID(),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  now,
		IsWinning: true,
	}
	if err := tx.InsertWinningBid(ctx, bid); err != nil {
		return out, err
	}

	a.CurrentBid = &bid.Amount
	a.CurrentBidderID = &bid.BidderID
	a.BidCount++
	a.UpdatedAt = now

	switch {
	case a.TriggersBuyNow(amount):
		a.Status = domain.AuctionEndedSold
		out.buyNow = true
	case a.ExtensionWindow > 0 && a.EndsAt.Sub(now) < a.ExtensionWindow:
		a.EndsAt = now.Add(a.ExtensionWindow)
		ends := a.EndsAt
		out.newEndsAt = &ends
	}

	if err := tx.UpdateAuction(ctx, a); err != nil {
		return out, err
	}

	out.bid = bid
	out.auction = a
	return out, nil
}

// classify maps a failed transaction onto the bid error taxonomy. Business
// rejections pass through; everything else is an infrastructure failure.
func (l *BidLedger) classify(ctx context.Context, auctionID, bidderID string, err error) error {
	var rej *domain.BidRejection
	switch {
	case errors.As(err, &rej):
		return err
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("bid_ledger: auction %s: %w: %w", auctionID, domain.ErrAuctionNotActive, domain.ErrNotFound)
	}

	l.logger.ErrorContext(ctx, "bid_ledger: store transaction failed",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("bid_ledger: place bid: %w: %w", domain.ErrInfrastructure, err)
}

func (l *BidLedger) emitAccepted(ctx context.Context, out bidOutcome, now time.Time) {
	a := out.auction

	if out.activated {
		l.emit(startedEvent(a, now))
	}

	l.emit(bidAcceptedEvent(out.bid, out.newEndsAt, out.buyNow))

	if out.prevBidder != "" && out.prevBidder != out.bid.BidderID {
		amount := out.bid.Amount
		l.emit(notificationEvent(out.prevBidder, domain.Notification{
			Kind:      domain.NotifyOutbid,
			AuctionID: a.ID,
			Message:   "someone just outbid you",
			Amount:    &amount,
		}, now))
	}

	if out.buyNow {
		l.emit(auctionEndedEvent(a, now))
		l.emit(wonEvent(a, now))
		pinRoom(ctx, l.rooms, a.ID, now, l.cfg.RoomGrace, l.logger)
	}
}

func (l *BidLedger) emit(ev domain.Event, err error) {
	if err != nil {
		l.logger.Error("bid_ledger: build event", slog.String("error", err.Error()))
		return
	}
	l.events.Emit(ev)
}
