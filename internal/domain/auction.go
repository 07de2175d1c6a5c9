package domain

import "time"

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionScheduled   AuctionStatus = "scheduled"
	AuctionActive      AuctionStatus = "active"
	AuctionEndedSold   AuctionStatus = "ended_sold"
	AuctionEndedUnsold AuctionStatus = "ended_unsold"
	AuctionCancelled   AuctionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionEndedSold, AuctionEndedUnsold, AuctionCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionScheduled, AuctionActive, AuctionEndedSold, AuctionEndedUnsold, AuctionCancelled:
		return true
	default:
		return false
	}
}

// Auction is a timed ascending-price sale of one item. All prices are integer
// minor units (cents).
type Auction struct {
	ID              string        `json:"id"`
	ProductID       string        `json:"productId"`
	SellerID        string        `json:"sellerId"`
	StartingPrice   int64         `json:"startingPrice"`
	ReservePrice    *int64        `json:"reservePrice,omitempty"`
	BuyNowPrice     *int64        `json:"buyNowPrice,omitempty"`
	CurrentBid      *int64        `json:"currentBid,omitempty"` // nil iff no bid exists
	CurrentBidderID *string       `json:"currentBidderId,omitempty"`
	BidIncrement    int64         `json:"bidIncrement"`
	StartsAt        time.Time     `json:"startsAt"`
	EndsAt          time.Time     `json:"endsAt"`
	ExtensionWindow time.Duration `json:"-"` // soft close; 0 disables
	Status          AuctionStatus `json:"status"`
	BidCount        int           `json:"bidCount"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// HasBid reports whether a winning bid exists.
func (a Auction) HasBid() bool {
	return a.CurrentBid != nil
}

// MinimumNextBid returns the lowest amount the next bid may carry.
func (a Auction) MinimumNextBid() int64 {
	if a.CurrentBid == nil {
		return a.StartingPrice
	}
	return *a.CurrentBid + a.BidIncrement
}

// AcceptsBidsAt reports whether t falls inside [StartsAt, EndsAt).
func (a Auction) AcceptsBidsAt(t time.Time) bool {
	return !t.Before(a.StartsAt) && t.Before(a.EndsAt)
}

// ReserveMet reports whether the current bid satisfies the reserve. An
// auction without a reserve is met as soon as any bid exists.
func (a Auction) ReserveMet() bool {
	if a.CurrentBid == nil {
		return false
	}
	if a.ReservePrice == nil {
		return true
	}
	return *a.CurrentBid >= *a.ReservePrice
}

// EndOutcome is the terminal status an active auction reaches at EndsAt.
func (a Auction) EndOutcome() AuctionStatus {
	if a.ReserveMet() {
		return AuctionEndedSold
	}
	return AuctionEndedUnsold
}

// TriggersBuyNow reports whether amount reaches the buy-now price.
func (a Auction) TriggersBuyNow(amount int64) bool {
	return a.BuyNowPrice != nil && amount >= *a.BuyNowPrice
}

// Validate checks the static shape of a new auction.
func (a Auction) Validate() error {
	switch {
	case a.ProductID == "":
		return invalidAuction("product_id is required")
	case a.StartingPrice <= 0:
		return invalidAuction("starting_price must be > 0")
	case a.BidIncrement <= 0:
		return invalidAuction("bid_increment must be > 0")
	case !a.EndsAt.After(a.StartsAt):
		return invalidAuction("ends_at must be after starts_at")
	case a.ExtensionWindow < 0:
		return invalidAuction("extension_window must be >= 0")
	case a.ReservePrice != nil && *a.ReservePrice < a.StartingPrice:
		return invalidAuction("reserve_price must be >= starting_price")
	case a.BuyNowPrice != nil && *a.BuyNowPrice < a.StartingPrice:
		return invalidAuction("buy_now_price must be >= starting_price")
	}
	return nil
}

// Bid is an offer placed by a buyer against an auction.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	BidderID  string    `json:"bidderId"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placedAt"`
	IsWinning bool      `json:"isWinning"`
}

// BidderSanction bars a bidder from bidding until Until (forever when nil).
type BidderSanction struct {
	BidderID  string     `json:"bidderId"`
	Reason    string     `json:"reason"`
	Until     *time.Time `json:"until,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ActiveAt reports whether the sanction is in force at t.
func (s BidderSanction) ActiveAt(t time.Time) bool {
	return s.Until == nil || t.Before(*s.Until)
}
