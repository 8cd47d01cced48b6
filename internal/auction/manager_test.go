package auction_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/artsfund/auction-engine/internal/auction"
	"github.com/artsfund/auction-engine/internal/clock"
	"github.com/artsfund/auction-engine/internal/event"
	"github.com/artsfund/auction-engine/internal/money"
	"github.com/artsfund/auction-engine/internal/store"
)

// memEventStore is an in-memory event.Store with the same uniqueness
// semantics as the real one, plus injectable version conflicts.
type memEventStore struct {
	mu       sync.Mutex
	events   map[string][]event.Event
	failNext int
	failLoad int
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string][]event.Event)}
}

func (s *memEventStore) Append(_ context.Context, events ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("injected: %w", event.ErrVersionConflict)
	}
	for _, e := range events {
		for _, existing := range s.events[e.AggregateID] {
			if existing.Version == e.Version {
				return fmt.Errorf("aggregate %s at version %d: %w", e.AggregateID, e.Version, event.ErrVersionConflict)
			}
		}
		s.events[e.AggregateID] = append(s.events[e.AggregateID], e)
	}
	return nil
}

func (s *memEventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad > 0 {
		s.failLoad--
		return nil, fmt.Errorf("injected: store unavailable")
	}
	out := make([]event.Event, len(s.events[aggregateID]))
	copy(out, s.events[aggregateID])
	return out, nil
}

func (s *memEventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, evs := range s.events {
		for _, e := range evs {
			if e.Type == eventType {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

type nopAuctionRepo struct{}

func (nopAuctionRepo) Create(context.Context, *store.Auction) error { return nil }
func (nopAuctionRepo) GetByID(context.Context, string) (*store.Auction, error) {
	return &store.Auction{}, nil
}
func (nopAuctionRepo) UpdateStatus(context.Context, string, string) error { return nil }
func (nopAuctionRepo) UpdateHighBid(context.Context, string, decimal.Decimal, string, time.Time) error {
	return nil
}
func (nopAuctionRepo) Close(context.Context, string, store.Closure) error { return nil }
func (nopAuctionRepo) ListByStatus(context.Context, string) ([]store.Auction, error) {
	return nil, nil
}

type nopBidRepo struct{}

func (nopBidRepo) Insert(context.Context, *store.Bid) error { return nil }
func (nopBidRepo) ListByAuction(context.Context, string) ([]store.Bid, error) {
	return nil, nil
}

type nopCeilingRepo struct{}

func (nopCeilingRepo) Upsert(context.Context, *store.ProxyCeiling) error     { return nil }
func (nopCeilingRepo) Deactivate(context.Context, string, string) error      { return nil }
func (nopCeilingRepo) DeactivateAll(context.Context, string) error           { return nil }
func (nopCeilingRepo) ListActive(context.Context, string) ([]store.ProxyCeiling, error) {
	return nil, nil
}

// recordingBroadcaster captures every emitted event for assertions.
type recordingBroadcaster struct {
	mu    sync.Mutex
	emits []string // event types in emission order
}

func (b *recordingBroadcaster) Emit(_ context.Context, _ string, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emits = append(b.emits, eventType)
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.emits {
		if t == eventType {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, es event.Store, bc auction.Broadcaster) (*auction.Manager, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(t0)
	repos := &store.Repositories{
		Auctions: nopAuctionRepo{},
		Bids:     nopBidRepo{},
		Ceilings: nopCeilingRepo{},
		Events:   es,
	}
	mgr := auction.NewManager(repos, bc, auction.ManagerConfig{
		Increments:            money.FixedIncrement(dec("10")),
		Fees:                  money.DefaultFeeSchedule(),
		DefaultExtendWindow:   60 * time.Second,
		DefaultExtendDuration: 300 * time.Second,
	}, slog.Default(), noop.NewTracerProvider(), clk)
	t.Cleanup(mgr.Shutdown)
	return mgr, clk
}

// createLiveAuction drives a fresh auction through the manager to live.
func createLiveAuction(t *testing.T, mgr *auction.Manager) string {
	t.Helper()
	ctx := context.Background()
	a, err := mgr.CreateAuction(ctx, auction.CreateParams{
		Title:              "Still Life with Oranges",
		ReservePrice:       dec("50"),
		StartTime:          t0,
		EndTime:            t0.Add(time.Hour),
		AutoExtendWindow:   60 * time.Second,
		AutoExtendDuration: 300 * time.Second,
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	if err := mgr.Approve(ctx, a.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := mgr.Activate(ctx, a.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return a.ID
}

func TestManager_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	bc := &recordingBroadcaster{}
	mgr, clk := newTestManager(t, newMemEventStore(), bc)

	id := createLiveAuction(t, mgr)
	clk.Advance(time.Minute)

	res, err := mgr.PlaceBid(ctx, id, "b1", dec("50"))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if res.Accepted.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", res.Accepted.Sequence)
	}

	st, err := mgr.GetState(ctx, id)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Status != auction.StatusLive || !st.HighAmount.Equal(dec("50")) {
		t.Errorf("state = %+v, want live at 50", st)
	}
	if got := bc.count(auction.EventBidAccepted); got != 1 {
		t.Errorf("bid-accepted emitted %d times, want 1", got)
	}
}

func TestManager_CreateAuction_Validation(t *testing.T) {
	mgr, _ := newTestManager(t, newMemEventStore(), nil)

	tests := []struct {
		name   string
		params auction.CreateParams
	}{
		{
			name: "end before start",
			params: auction.CreateParams{
				Title:     "Backwards",
				StartTime: t0,
				EndTime:   t0.Add(-time.Hour),
			},
		},
		{
			name: "negative reserve",
			params: auction.CreateParams{
				Title:        "Below Zero",
				ReservePrice: dec("-1"),
				StartTime:    t0,
				EndTime:      t0.Add(time.Hour),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.CreateAuction(context.Background(), tt.params)
			if !errors.Is(err, auction.ErrInvalidParams) {
				t.Errorf("CreateAuction() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestManager_CreateAuction_DefaultExtendSettings(t *testing.T) {
	ctx := context.Background()
	mgr, clk := newTestManager(t, newMemEventStore(), nil)

	// No extension settings: the manager-wide defaults apply.
	a, err := mgr.CreateAuction(ctx, auction.CreateParams{
		Title:        "Untitled No. 4",
		ReservePrice: dec("50"),
		StartTime:    t0,
		EndTime:      t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	if err := mgr.Approve(ctx, a.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := mgr.Activate(ctx, a.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	at := t0.Add(time.Hour).Add(-30 * time.Second)
	clk.Set(at)
	res, err := mgr.PlaceBid(ctx, a.ID, "b1", dec("50"))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if !res.Extended {
		t.Fatal("bid inside the default window should extend")
	}
	if want := at.Add(300 * time.Second); !res.EndTime.Equal(want) {
		t.Errorf("EndTime = %v, want %v", res.EndTime, want)
	}
}

func TestManager_GetState_NotFound(t *testing.T) {
	mgr, _ := newTestManager(t, newMemEventStore(), nil)

	_, err := mgr.GetState(context.Background(), "no-such-auction")
	if !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Errorf("GetState() error = %v, want ErrAuctionNotFound", err)
	}
}

func TestManager_PlaceBid_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	es := newMemEventStore()
	mgr, clk := newTestManager(t, es, nil)

	id := createLiveAuction(t, mgr)
	clk.Advance(time.Minute)

	// Two transient conflicts are absorbed within the default bound of 3.
	es.mu.Lock()
	es.failNext = 2
	es.mu.Unlock()

	res, err := mgr.PlaceBid(ctx, id, "b1", dec("50"))
	if err != nil {
		t.Fatalf("PlaceBid after transient conflicts: %v", err)
	}
	if res.Accepted.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", res.Accepted.Sequence)
	}

	// The bid survives a replay from the persisted history.
	replayed, err := mgr.ReplayAuction(ctx, id)
	if err != nil {
		t.Fatalf("ReplayAuction: %v", err)
	}
	if got := replayed.State().BidCount; got != 1 {
		t.Errorf("replayed BidCount = %d, want 1", got)
	}
}

func TestManager_PlaceBid_ConflictBoundExhausted(t *testing.T) {
	ctx := context.Background()
	es := newMemEventStore()
	mgr, clk := newTestManager(t, es, nil)

	id := createLiveAuction(t, mgr)
	clk.Advance(time.Minute)

	es.mu.Lock()
	es.failNext = 10
	es.mu.Unlock()

	_, err := mgr.PlaceBid(ctx, id, "b1", dec("50"))
	if !errors.Is(err, auction.ErrConcurrentModification) {
		t.Errorf("PlaceBid() error = %v, want ErrConcurrentModification", err)
	}
}

func TestManager_PlaceBid_RecoversWhenReloadFails(t *testing.T) {
	ctx := context.Background()
	es := newMemEventStore()
	mgr, clk := newTestManager(t, es, nil)

	id := createLiveAuction(t, mgr)
	clk.Advance(time.Minute)

	// The first attempt loses a version conflict and the reload that
	// follows cannot reach the store. The retry must not validate
	// against the unpersisted bid the failed attempt left in memory.
	es.mu.Lock()
	es.failNext = 1
	es.failLoad = 1
	es.mu.Unlock()

	res, err := mgr.PlaceBid(ctx, id, "b1", dec("50"))
	if err != nil {
		t.Fatalf("PlaceBid after failed reload: %v", err)
	}
	if res.Accepted.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", res.Accepted.Sequence)
	}
	if !res.Accepted.Amount.Equal(dec("50")) {
		t.Errorf("Amount = %s, want 50", res.Accepted.Amount)
	}
}

func TestManager_CloseAuction_BroadcastsWinnerOnce(t *testing.T) {
	ctx := context.Background()
	bc := &recordingBroadcaster{}
	mgr, clk := newTestManager(t, newMemEventStore(), bc)

	id := createLiveAuction(t, mgr)
	clk.Advance(time.Minute)
	if _, err := mgr.PlaceBid(ctx, id, "b1", dec("75")); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	clk.Set(t0.Add(time.Hour))
	first, err := mgr.CloseAuction(ctx, id)
	if err != nil {
		t.Fatalf("first CloseAuction: %v", err)
	}
	if first.Outcome != auction.OutcomeSold || first.WinnerID != "b1" {
		t.Fatalf("result = %+v, want b1 sold", first)
	}
	if !first.Fee.Equal(dec("3.75")) {
		t.Errorf("Fee = %s, want 3.75", first.Fee)
	}

	second, err := mgr.CloseAuction(ctx, id)
	if err != nil {
		t.Fatalf("second CloseAuction: %v", err)
	}
	if !second.ClosedAt.Equal(first.ClosedAt) || second.WinnerID != first.WinnerID {
		t.Errorf("second close result = %+v, want the stored %+v", second, first)
	}
	if got := bc.count(auction.EventWinnerDetermined); got != 1 {
		t.Errorf("winner-determined emitted %d times, want exactly 1", got)
	}
}

func TestManager_CloseAuction_NoSale(t *testing.T) {
	ctx := context.Background()
	bc := &recordingBroadcaster{}
	mgr, clk := newTestManager(t, newMemEventStore(), bc)

	id := createLiveAuction(t, mgr)
	clk.Set(t0.Add(time.Hour))

	res, err := mgr.CloseAuction(ctx, id)
	if err != nil {
		t.Fatalf("CloseAuction: %v", err)
	}
	if res.Outcome != auction.OutcomeNoSale {
		t.Errorf("Outcome = %s, want no_sale", res.Outcome)
	}
	if got := bc.count(auction.EventNoSale); got != 1 {
		t.Errorf("no-sale emitted %d times, want 1", got)
	}
	if got := bc.count(auction.EventWinnerDetermined); got != 0 {
		t.Errorf("winner-determined emitted %d times, want 0", got)
	}
}

func TestManager_ScheduledCloseHonorsExtendedDeadline(t *testing.T) {
	ctx := context.Background()
	bc := &recordingBroadcaster{}
	mgr, clk := newTestManager(t, newMemEventStore(), bc)

	// The timer runs on wall time while the mock clock stays at t0, so
	// every fire arrives before the deadline it was armed for. That is
	// the same situation as a timer firing after a bid extended the
	// auction: the callback must re-arm instead of finalizing.
	a, err := mgr.CreateAuction(ctx, auction.CreateParams{
		Title:        "Portrait of a Clerk",
		ReservePrice: dec("50"),
		StartTime:    t0,
		EndTime:      t0.Add(30 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	if err := mgr.Approve(ctx, a.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := mgr.Activate(ctx, a.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	st, err := mgr.GetState(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Status != auction.StatusLive {
		t.Fatalf("Status = %s, want %s: timer fired before the deadline", st.Status, auction.StatusLive)
	}
	if got := bc.count(auction.EventNoSale); got != 0 {
		t.Errorf("no-sale broadcasts before the deadline = %d, want 0", got)
	}

	// Once the clock reaches the deadline the re-armed timer closes it.
	clk.Set(t0.Add(time.Hour))
	waitFor(t, func() bool { return bc.count(auction.EventNoSale) == 1 },
		"auction was not closed after the deadline passed")

	st, err = mgr.GetState(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Status != auction.StatusClosed {
		t.Errorf("Status = %s, want %s", st.Status, auction.StatusClosed)
	}
}

func TestManager_PlaceBid_EmitsExtension(t *testing.T) {
	ctx := context.Background()
	bc := &recordingBroadcaster{}
	mgr, clk := newTestManager(t, newMemEventStore(), bc)

	id := createLiveAuction(t, mgr)
	clk.Set(t0.Add(time.Hour).Add(-30 * time.Second))

	res, err := mgr.PlaceBid(ctx, id, "b1", dec("50"))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if !res.Extended {
		t.Fatal("bid inside the closing window should extend")
	}
	if got := bc.count(auction.EventAuctionExtended); got != 1 {
		t.Errorf("auction-extended emitted %d times, want 1", got)
	}
}

func TestManager_CancelAuction(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, newMemEventStore(), nil)

	id := createLiveAuction(t, mgr)
	if err := mgr.CancelAuction(ctx, id); err != nil {
		t.Fatalf("CancelAuction: %v", err)
	}

	st, err := mgr.GetState(ctx, id)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Status != auction.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", st.Status)
	}

	err = mgr.CancelAuction(ctx, id)
	if !errors.Is(err, auction.ErrIllegalTransition) {
		t.Errorf("second CancelAuction error = %v, want ErrIllegalTransition", err)
	}
}

func TestManager_RecoverLiveAuctions(t *testing.T) {
	ctx := context.Background()
	es := newMemEventStore()

	// Drive one auction to live and one to closed, then recover into a
	// fresh manager sharing the same event store.
	seed, clk := newTestManager(t, es, nil)
	liveID := createLiveAuction(t, seed)
	closedID := createLiveAuction(t, seed)
	clk.Advance(time.Minute)
	if _, err := seed.PlaceBid(ctx, liveID, "b1", dec("50")); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if _, err := seed.CloseAuction(ctx, closedID); err != nil {
		t.Fatalf("CloseAuction: %v", err)
	}
	seed.Shutdown()

	mgr, _ := newTestManager(t, es, nil)
	recovered, err := mgr.RecoverLiveAuctions(ctx)
	if err != nil {
		t.Fatalf("RecoverLiveAuctions: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered %d auctions, want 1", recovered)
	}

	st, err := mgr.GetState(ctx, liveID)
	if err != nil {
		t.Fatalf("GetState(live): %v", err)
	}
	if st.Status != auction.StatusLive || st.BidCount != 1 {
		t.Errorf("recovered state = %+v, want live with 1 bid", st)
	}
}
