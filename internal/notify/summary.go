package notify

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// Summarize renders ev as a human-readable title and message for chat
// channels. Amounts are printed in minor units.
func Summarize(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventBidAccepted:
		var p domain.BidAccepted
		if json.Unmarshal(ev.Payload, &p) == nil {
			msg := fmt.Sprintf("auction %s: %s bid %d", p.AuctionID, p.BidderID, p.Amount)
			if p.BuyNow {
				msg += " (buy now)"
			}
			if p.NewEndsAt != nil {
				msg += fmt.Sprintf(", now ends %s", p.NewEndsAt.UTC().Format("2006-01-02 15:04:05Z"))
			}
			return "Bid accepted", msg
		}
	case domain.EventAuctionEnded:
		var p domain.AuctionEnded
		if json.Unmarshal(ev.Payload, &p) == nil {
			if p.Outcome == domain.AuctionEndedSold && p.WinningBid != nil {
				return "Auction sold", fmt.Sprintf("auction %s sold to %s for %d", p.AuctionID, p.WinnerID, *p.WinningBid)
			}
			return "Auction ended", fmt.Sprintf("auction %s ended: %s", p.AuctionID, p.Outcome)
		}
	case domain.EventNotification:
		var p domain.Notification
		if json.Unmarshal(ev.Payload, &p) == nil {
			return "Notification: " + p.Kind, p.Message
		}
	}
	return string(ev.Type), string(ev.Payload)
}
