package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/artsfund/auction-engine/internal/clock"
	"github.com/artsfund/auction-engine/internal/store"
	"github.com/artsfund/auction-engine/internal/store/postgres"
)

func newTestCeiling(auctionID, bidderID string, amount int64) *store.ProxyCeiling {
	return &store.ProxyCeiling{
		ID:           uuid.NewString(),
		AuctionID:    auctionID,
		BidderID:     bidderID,
		Amount:       decimal.NewFromInt(amount),
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
		Active:       true,
	}
}

func TestCeilingRepo_UpsertReplacesPrior(t *testing.T) {
	db := newTestDB(t)
	auctionRepo := postgres.NewAuctionRepo(db, clock.Real{})
	ceilingRepo := postgres.NewCeilingRepo(db)
	ctx := context.Background()

	a := newTestAuction("Lithograph")
	if err := auctionRepo.Create(ctx, a); err != nil {
		t.Fatalf("Create auction: %v", err)
	}

	if err := ceilingRepo.Upsert(ctx, newTestCeiling(a.ID, "bidder-1", 150)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ceilingRepo.Upsert(ctx, newTestCeiling(a.ID, "bidder-1", 200)); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	active, err := ceilingRepo.ListActive(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ListActive returned %d, want 1", len(active))
	}
	if !active[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Amount = %s, want 200", active[0].Amount)
	}
}

func TestCeilingRepo_Deactivate(t *testing.T) {
	db := newTestDB(t)
	auctionRepo := postgres.NewAuctionRepo(db, clock.Real{})
	ceilingRepo := postgres.NewCeilingRepo(db)
	ctx := context.Background()

	a := newTestAuction("Etching")
	if err := auctionRepo.Create(ctx, a); err != nil {
		t.Fatalf("Create auction: %v", err)
	}

	if err := ceilingRepo.Upsert(ctx, newTestCeiling(a.ID, "bidder-1", 100)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ceilingRepo.Deactivate(ctx, a.ID, "bidder-1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	active, _ := ceilingRepo.ListActive(ctx, a.ID)
	if len(active) != 0 {
		t.Errorf("ListActive returned %d after deactivate, want 0", len(active))
	}
}

func TestCeilingRepo_DeactivateAll(t *testing.T) {
	db := newTestDB(t)
	auctionRepo := postgres.NewAuctionRepo(db, clock.Real{})
	ceilingRepo := postgres.NewCeilingRepo(db)
	ctx := context.Background()

	a := newTestAuction("Watercolour")
	if err := auctionRepo.Create(ctx, a); err != nil {
		t.Fatalf("Create auction: %v", err)
	}

	for i, bidder := range []string{"bidder-1", "bidder-2", "bidder-3"} {
		if err := ceilingRepo.Upsert(ctx, newTestCeiling(a.ID, bidder, int64(100+i*50))); err != nil {
			t.Fatalf("Upsert(%s): %v", bidder, err)
		}
	}

	if err := ceilingRepo.DeactivateAll(ctx, a.ID); err != nil {
		t.Fatalf("DeactivateAll: %v", err)
	}

	active, _ := ceilingRepo.ListActive(ctx, a.ID)
	if len(active) != 0 {
		t.Errorf("ListActive returned %d after DeactivateAll, want 0", len(active))
	}
}
