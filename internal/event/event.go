package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated   Type = "auction.created"
	AuctionApproved  Type = "auction.approved"
	AuctionActivated Type = "auction.activated"
	AuctionExtended  Type = "auction.extended"
	AuctionClosed    Type = "auction.closed"
	AuctionCancelled Type = "auction.cancelled"

	BidPlaced Type = "auction.bid_placed"

	CeilingRegistered Type = "auction.ceiling_registered"
	CeilingCancelled  Type = "auction.ceiling_cancelled"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionCreatedData is the payload for AuctionCreated events.
type AuctionCreatedData struct {
	Title              string          `json:"title"`
	ReservePrice       decimal.Decimal `json:"reserve_price"`
	StartTime          time.Time       `json:"start_time"`
	EndTime            time.Time       `json:"end_time"`
	AutoExtendWindow   time.Duration   `json:"auto_extend_window"`
	AutoExtendDuration time.Duration   `json:"auto_extend_duration"`
}

// AuctionActivatedData is the payload for AuctionActivated events.
type AuctionActivatedData struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// AuctionExtendedData is the payload for AuctionExtended events.
type AuctionExtendedData struct {
	NewEndTime  time.Time `json:"new_end_time"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	BidID    string          `json:"bid_id"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Sequence int64           `json:"sequence"`
	Origin   string          `json:"origin"`
	PlacedAt time.Time       `json:"placed_at"`
}

// CeilingRegisteredData is the payload for CeilingRegistered events.
type CeilingRegisteredData struct {
	BidderID     string          `json:"bidder_id"`
	Amount       decimal.Decimal `json:"amount"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// CeilingCancelledData is the payload for CeilingCancelled events.
type CeilingCancelledData struct {
	BidderID string `json:"bidder_id"`
}

// AuctionClosedData is the payload for AuctionClosed events.
type AuctionClosedData struct {
	Outcome  string          `json:"outcome"`
	WinnerID string          `json:"winner_id,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Fee      decimal.Decimal `json:"fee"`
	ClosedAt time.Time       `json:"closed_at"`
}
