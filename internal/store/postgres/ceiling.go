package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/artsfund/auction-engine/internal/store"
)

// CeilingRepo implements store.CeilingRepository with sqlx.
type CeilingRepo struct {
	db *sqlx.DB
}

// NewCeilingRepo returns a new CeilingRepo.
func NewCeilingRepo(db *sqlx.DB) *CeilingRepo {
	return &CeilingRepo{db: db}
}

// Upsert deactivates any prior ceiling for the bidder and inserts the new one,
// so at most one active ceiling per (auction, bidder) exists.
func (r *CeilingRepo) Upsert(ctx context.Context, c *store.ProxyCeiling) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE proxy_ceilings SET active = false
		 WHERE auction_id = $1 AND bidder_id = $2 AND active`,
		c.AuctionID, c.BidderID)
	if err != nil {
		return fmt.Errorf("deactivating prior ceiling: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO proxy_ceilings (id, auction_id, bidder_id, amount, registered_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.AuctionID, c.BidderID, c.Amount, c.RegisteredAt, c.Active)
	if err != nil {
		return fmt.Errorf("inserting ceiling: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ceiling upsert: %w", err)
	}
	return nil
}

func (r *CeilingRepo) Deactivate(ctx context.Context, auctionID, bidderID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE proxy_ceilings SET active = false
		 WHERE auction_id = $1 AND bidder_id = $2 AND active`,
		auctionID, bidderID)
	if err != nil {
		return fmt.Errorf("deactivating ceiling: %w", err)
	}
	return nil
}

func (r *CeilingRepo) DeactivateAll(ctx context.Context, auctionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE proxy_ceilings SET active = false WHERE auction_id = $1 AND active`,
		auctionID)
	if err != nil {
		return fmt.Errorf("deactivating ceilings: %w", err)
	}
	return nil
}

func (r *CeilingRepo) ListActive(ctx context.Context, auctionID string) ([]store.ProxyCeiling, error) {
	var ceilings []store.ProxyCeiling
	err := r.db.SelectContext(ctx, &ceilings,
		`SELECT * FROM proxy_ceilings
		 WHERE auction_id = $1 AND active
		 ORDER BY registered_at ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing ceilings: %w", err)
	}
	return ceilings, nil
}
