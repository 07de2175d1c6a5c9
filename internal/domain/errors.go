package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Bid rejections.
	ErrInvalidBid       = errors.New("invalid bid")
	ErrBidTooLow        = errors.New("bid too low")
	ErrAuctionNotActive = errors.New("auction not active")
	ErrBidderIneligible = errors.New("bidder ineligible")

	ErrInvalidAuction = errors.New("invalid auction")

	// ErrInfrastructure marks a failure of the shared store. The operation
	// was not applied and may be retried.
	ErrInfrastructure = errors.New("infrastructure unavailable")
)

// BidRejection is returned when a bid fails a business rule. It unwraps to
// one of the bid rejection sentinels so callers can use errors.Is.
type BidRejection struct {
	Reason     error
	Detail     string
	CurrentBid *int64
	MinimumBid int64
}

func (e *BidRejection) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *BidRejection) Unwrap() error {
	return e.Reason
}

// Reject builds a BidRejection for reason with a formatted detail.
func Reject(reason error, format string, args ...any) *BidRejection {
	return &BidRejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func invalidAuction(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidAuction, msg)
}
