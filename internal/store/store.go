package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Auction is the relational projection of an auction aggregate.
type Auction struct {
	ID                  string              `db:"id"`
	Title               string              `db:"title"`
	Status              string              `db:"status"`
	ReservePrice        decimal.Decimal     `db:"reserve_price"`
	CurrentHighBid      decimal.NullDecimal `db:"current_high_bid"`
	CurrentHighBidderID sql.NullString      `db:"current_high_bidder_id"`
	StartTime           time.Time           `db:"start_time"`
	EndTime             time.Time           `db:"end_time"`
	AutoExtendWindowSec int64               `db:"auto_extend_window_sec"`
	AutoExtendDurSec    int64               `db:"auto_extend_dur_sec"`
	WinnerID            sql.NullString      `db:"winner_id"`
	SaleAmount          decimal.NullDecimal `db:"sale_amount"`
	PlatformFee         decimal.NullDecimal `db:"platform_fee"`
	CreatedAt           time.Time           `db:"created_at"`
	ClosedAt            sql.NullTime        `db:"closed_at"`
}

// Bid is an accepted bid row. Rows are append-only.
type Bid struct {
	ID             string          `db:"id"`
	AuctionID      string          `db:"auction_id"`
	BidderID       string          `db:"bidder_id"`
	Amount         decimal.Decimal `db:"amount"`
	PlacedAt       time.Time       `db:"placed_at"`
	SequenceNumber int64           `db:"sequence_number"`
	Origin         string          `db:"origin"`
}

// ProxyCeiling is a bidder's auto-bid ceiling row. At most one active row
// per (auction, bidder).
type ProxyCeiling struct {
	ID           string          `db:"id"`
	AuctionID    string          `db:"auction_id"`
	BidderID     string          `db:"bidder_id"`
	Amount       decimal.Decimal `db:"amount"`
	RegisteredAt time.Time       `db:"registered_at"`
	Active       bool            `db:"active"`
}

// Closure carries the fields written when an auction reaches its
// terminal closed state.
type Closure struct {
	Outcome    string
	WinnerID   sql.NullString
	SaleAmount decimal.NullDecimal
	Fee        decimal.NullDecimal
	ClosedAt   time.Time
}

// AuctionRepository defines auction projection persistence.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateHighBid(ctx context.Context, id string, amount decimal.Decimal, bidderID string, endTime time.Time) error
	Close(ctx context.Context, id string, c Closure) error
	ListByStatus(ctx context.Context, status string) ([]Auction, error)
}

// BidRepository defines bid persistence.
type BidRepository interface {
	Insert(ctx context.Context, b *Bid) error
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
}

// CeilingRepository defines proxy ceiling persistence.
type CeilingRepository interface {
	Upsert(ctx context.Context, c *ProxyCeiling) error
	Deactivate(ctx context.Context, auctionID, bidderID string) error
	DeactivateAll(ctx context.Context, auctionID string) error
	ListActive(ctx context.Context, auctionID string) ([]ProxyCeiling, error)
}
