package entstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artsfund/auction-engine/internal/clock"
	"github.com/artsfund/auction-engine/internal/store"
)

const auctionColumns = `id, title, status, reserve_price, current_high_bid, current_high_bidder_id,
	start_time, end_time, auto_extend_window_sec, auto_extend_dur_sec,
	winner_id, sale_amount, platform_fee, created_at, closed_at`

// AuctionRepo implements store.AuctionRepository using database/sql.
type AuctionRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sql.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	a.CreatedAt = r.clock.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions
		   (id, title, status, reserve_price, start_time, end_time,
		    auto_extend_window_sec, auto_extend_dur_sec, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Title, a.Status, a.ReservePrice, a.StartTime, a.EndTime,
		a.AutoExtendWindowSec, a.AutoExtendDurSec, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

func scanAuction(row interface{ Scan(...any) error }) (*store.Auction, error) {
	a := &store.Auction{}
	err := row.Scan(&a.ID, &a.Title, &a.Status, &a.ReservePrice,
		&a.CurrentHighBid, &a.CurrentHighBidderID,
		&a.StartTime, &a.EndTime, &a.AutoExtendWindowSec, &a.AutoExtendDurSec,
		&a.WinnerID, &a.SaleAmount, &a.PlatformFee, &a.CreatedAt, &a.ClosedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	a, err := scanAuction(r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return a, nil
}

func (r *AuctionRepo) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating auction status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found", id)
	}
	return nil
}

func (r *AuctionRepo) UpdateHighBid(ctx context.Context, id string, amount decimal.Decimal, bidderID string, endTime time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions
		 SET current_high_bid = $1, current_high_bidder_id = $2, end_time = $3
		 WHERE id = $4`,
		amount, bidderID, endTime, id,
	)
	if err != nil {
		return fmt.Errorf("updating high bid: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found", id)
	}
	return nil
}

func (r *AuctionRepo) Close(ctx context.Context, id string, c store.Closure) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions
		 SET status = 'closed', winner_id = $1, sale_amount = $2,
		     platform_fee = $3, closed_at = $4
		 WHERE id = $5 AND status = 'live'`,
		c.WinnerID, c.SaleAmount, c.Fee, c.ClosedAt, id,
	)
	if err != nil {
		return fmt.Errorf("closing auction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found or already closed", id)
	}
	return nil
}

func (r *AuctionRepo) ListByStatus(ctx context.Context, status string) ([]store.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	defer rows.Close()

	var auctions []store.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auction row: %w", err)
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}
