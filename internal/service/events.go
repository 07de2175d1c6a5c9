package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
)

var errNoWinner = errors.New("service: auction has no winner")

func bidAcceptedEvent(b domain.Bid, newEndsAt *time.Time, buyNow bool) (domain.Event, error) {
	return domain.NewEvent(domain.EventBidAccepted, b.AuctionID, domain.BidAccepted{
		AuctionID: b.AuctionID,
		BidID:     b.ID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		NewEndsAt: newEndsAt,
		BuyNow:    buyNow,
	}, b.PlacedAt)
}

func auctionEndedEvent(a domain.Auction, endedAt time.Time) (domain.Event, error) {
	payload := domain.AuctionEnded{
		AuctionID: a.ID,
		Outcome:   a.Status,
		EndedAt:   endedAt.UTC(),
	}
	if a.Status == domain.AuctionEndedSold && a.CurrentBidderID != nil {
		payload.WinnerID = *a.CurrentBidderID
		payload.WinningBid = a.CurrentBid
	}
	return domain.NewEvent(domain.EventAuctionEnded, a.ID, payload, endedAt)
}

// notificationEvent builds a notification for recipient, or a
// marketplace-wide one when recipient is empty.
func notificationEvent(recipient string, n domain.Notification, ts time.Time) (domain.Event, error) {
	ev, err := domain.NewEvent(domain.EventNotification, n.AuctionID, n, ts)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Recipient = recipient
	return ev, nil
}

func startedEvent(a domain.Auction, ts time.Time) (domain.Event, error) {
	return notificationEvent("", domain.Notification{
		Kind:      domain.NotifyAuctionStarted,
		AuctionID: a.ID,
		Message:   "auction " + a.ID + " is now open for bidding",
		Amount:    &a.StartingPrice,
	}, ts)
}

// wonEvent notifies the winner of a sold auction.
func wonEvent(a domain.Auction, ts time.Time) (domain.Event, error) {
	if a.Status != domain.AuctionEndedSold || a.CurrentBidderID == nil {
		return domain.Event{}, errNoWinner
	}
	return notificationEvent(*a.CurrentBidderID, domain.Notification{
		Kind:      domain.NotifyWon,
		AuctionID: a.ID,
		Message:   "you won auction " + a.ID,
		Amount:    a.CurrentBid,
	}, ts)
}

// pinRoom moves the room membership expiry to endedAt + grace. Failures are
// logged; the key still expires at its join-time deadline.
func pinRoom(ctx context.Context, rooms domain.RoomRegistry, auctionID string, endedAt time.Time, grace time.Duration, logger *slog.Logger) {
	if rooms == nil {
		return
	}
	if err := rooms.Expire(ctx, auctionID, endedAt.Add(grace)); err != nil {
		logger.WarnContext(ctx, "service: pin room expiry",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}
