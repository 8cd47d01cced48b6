package auction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Broadcast event types pushed to the realtime layer.
const (
	EventBidAccepted      = "bid-accepted"
	EventAuctionExtended  = "auction-extended"
	EventWinnerDetermined = "winner-determined"
	EventNoSale           = "no-sale"
)

// Broadcaster receives fire-and-forget events for UI push. Delivery is
// at-least-once and never acknowledged; the engine's correctness does not
// depend on it. Implementations must not block the caller.
type Broadcaster interface {
	Emit(ctx context.Context, auctionID, eventType string, payload any)
}

// NopBroadcaster discards all events.
type NopBroadcaster struct{}

// Emit does nothing.
func (NopBroadcaster) Emit(context.Context, string, string, any) {}

// BidAcceptedPayload is the broadcast body for EventBidAccepted.
type BidAcceptedPayload struct {
	AuctionID string          `json:"auction_id"`
	BidID     string          `json:"bid_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Sequence  int64           `json:"sequence"`
	Origin    string          `json:"origin"`
	EndTime   time.Time       `json:"end_time"`
}

// ExtendedPayload is the broadcast body for EventAuctionExtended.
type ExtendedPayload struct {
	AuctionID  string    `json:"auction_id"`
	NewEndTime time.Time `json:"new_end_time"`
}

// ClosurePayload is the broadcast body for EventWinnerDetermined and
// EventNoSale.
type ClosurePayload struct {
	AuctionID string          `json:"auction_id"`
	Outcome   string          `json:"outcome"`
	WinnerID  string          `json:"winner_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	ClosedAt  time.Time       `json:"closed_at"`
}
