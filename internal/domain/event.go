package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names the kind of real-time event delivered to clients.
type EventType string

const (
	EventBidAccepted  EventType = "bid_accepted"
	EventAuctionEnded EventType = "auction_ended"
	EventNotification EventType = "notification"
)

// Notification kinds carried in EventNotification payloads.
const (
	NotifyOutbid         = "outbid"
	NotifyWon            = "won"
	NotifyAuctionStarted = "auction_started"
)

// Event is the envelope delivered to clients and collaborators.
//
// Recipient is routing metadata for direct notifications and never leaves
// the process inside the envelope itself.
type Event struct {
	Type      EventType       `json:"type"`
	AuctionID string          `json:"auctionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Recipient string          `json:"-"`
}

// NewEvent marshals payload into a new envelope.
func NewEvent(typ EventType, auctionID string, payload any, ts time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", typ, err)
	}
	return Event{
		Type:      typ,
		AuctionID: auctionID,
		Payload:   raw,
		Timestamp: ts.UTC(),
	}, nil
}

// BidAccepted is the payload of EventBidAccepted.
type BidAccepted struct {
	AuctionID string     `json:"auctionId"`
	BidID     string     `json:"bidId"`
	BidderID  string     `json:"bidderId"`
	Amount    int64      `json:"amount"`
	NewEndsAt *time.Time `json:"newEndsAt,omitempty"`
	BuyNow    bool       `json:"buyNow,omitempty"`
}

// AuctionEnded is the payload of EventAuctionEnded.
type AuctionEnded struct {
	AuctionID  string        `json:"auctionId"`
	Outcome    AuctionStatus `json:"outcome"`
	WinnerID   string        `json:"winnerId,omitempty"`
	WinningBid *int64        `json:"winningBid,omitempty"`
	EndedAt    time.Time     `json:"endedAt"`
}

// Notification is the payload of EventNotification.
type Notification struct {
	Kind      string `json:"kind"`
	AuctionID string `json:"auctionId,omitempty"`
	Message   string `json:"message"`
	Amount    *int64 `json:"amount,omitempty"`
}

// EventEmitter hands committed domain events to the delivery layer. Emit
// must not block the caller.
type EventEmitter interface {
	Emit(ev Event)
}
