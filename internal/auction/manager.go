package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/artsfund/auction-engine/internal/clock"
	"github.com/artsfund/auction-engine/internal/event"
	"github.com/artsfund/auction-engine/internal/money"
	"github.com/artsfund/auction-engine/internal/store"
)

// ManagerConfig carries engine-wide defaults applied to every auction.
type ManagerConfig struct {
	Increments money.IncrementSchedule
	Fees       money.FeeSchedule
	// BidRetries bounds invisible retries after a persistence version
	// conflict before the conflict is surfaced to the caller.
	BidRetries int
	// DefaultExtendWindow and DefaultExtendDuration apply to auctions
	// created without their own extension settings.
	DefaultExtendWindow   time.Duration
	DefaultExtendDuration time.Duration
}

// Manager coordinates auction lifecycle, persistence and broadcasting.
// Aggregates serialize their own mutations; the Manager's lock only
// guards the registry map, so auctions never contend with each other.
type Manager struct {
	mu       sync.RWMutex
	auctions map[string]*Auction

	repos       *store.Repositories
	broadcaster Broadcaster
	cfg         ManagerConfig
	scheduler   *Scheduler
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       clock.Clock
}

// NewManager creates a new auction Manager. The broadcaster is injected
// so the engine runs without a live transport in tests.
func NewManager(repos *store.Repositories, broadcaster Broadcaster, cfg ManagerConfig, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if cfg.BidRetries <= 0 {
		cfg.BidRetries = 3
	}
	return &Manager{
		auctions:    make(map[string]*Auction),
		repos:       repos,
		broadcaster: broadcaster,
		cfg:         cfg,
		scheduler:   NewScheduler(clk, logger),
		logger:      logger,
		tracer:      tp.Tracer("github.com/artsfund/auction-engine/internal/auction"),
		clock:       clk,
	}
}

// CreateParams describes a new auction handed in from the listing
// workflow.
type CreateParams struct {
	Title              string
	ReservePrice       decimal.Decimal
	StartTime          time.Time
	EndTime            time.Time
	AutoExtendWindow   time.Duration
	AutoExtendDuration time.Duration
}

// CreateAuction creates and tracks a new draft auction.
func (m *Manager) CreateAuction(ctx context.Context, p CreateParams) (*Auction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CreateAuction",
		trace.WithAttributes(attribute.String("auction.title", p.Title)),
	)
	defer span.End()

	if !p.EndTime.After(p.StartTime) {
		return nil, fmt.Errorf("%w: end time %v is not after start time %v", ErrInvalidParams, p.EndTime, p.StartTime)
	}
	if p.ReservePrice.IsNegative() {
		return nil, fmt.Errorf("%w: reserve price must not be negative", ErrInvalidParams)
	}
	if p.AutoExtendWindow <= 0 {
		p.AutoExtendWindow = m.cfg.DefaultExtendWindow
	}
	if p.AutoExtendDuration <= 0 {
		p.AutoExtendDuration = m.cfg.DefaultExtendDuration
	}

	a := New(Config{
		ID:                 uuid.NewString(),
		Title:              p.Title,
		ReservePrice:       p.ReservePrice,
		StartTime:          p.StartTime,
		EndTime:            p.EndTime,
		AutoExtendWindow:   p.AutoExtendWindow,
		AutoExtendDuration: p.AutoExtendDuration,
		Increments:         m.cfg.Increments,
		Fees:               m.cfg.Fees,
	})

	if err := m.repos.Events.Append(ctx, a.PendingEvents()...); err != nil {
		return nil, fmt.Errorf("persisting auction created events: %w", err)
	}

	row := &store.Auction{
		ID:                  a.ID,
		Title:               a.Title,
		Status:              string(a.Status),
		ReservePrice:        a.ReservePrice,
		StartTime:           a.StartTime,
		EndTime:             a.EndTime,
		AutoExtendWindowSec: int64(a.AutoExtendWindow / time.Second),
		AutoExtendDurSec:    int64(a.AutoExtendDuration / time.Second),
	}
	if err := m.repos.Auctions.Create(ctx, row); err != nil {
		m.logger.ErrorContext(ctx, "failed to project auction row", slog.Any("error", err))
	}

	m.mu.Lock()
	m.auctions[a.ID] = a
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("title", a.Title),
	)
	return a, nil
}

// Approve moves a draft auction to approved.
func (m *Manager) Approve(ctx context.Context, auctionID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Approve",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.get(ctx, auctionID)
	if err != nil {
		return err
	}
	if err := a.Approve(ctx); err != nil {
		return err
	}
	m.persist(ctx, a)
	m.projectStatus(ctx, auctionID, StatusApproved)
	return nil
}

// Activate moves an approved auction to live and arms its close timer.
func (m *Manager) Activate(ctx context.Context, auctionID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Activate",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.get(ctx, auctionID)
	if err != nil {
		return err
	}
	if err := a.Activate(ctx, m.clock.Now()); err != nil {
		return err
	}
	m.persist(ctx, a)
	m.projectStatus(ctx, auctionID, StatusLive)

	st := a.State()
	m.scheduleClose(auctionID, st.EndTime)

	m.logger.InfoContext(ctx, "auction live",
		slog.String("auction_id", auctionID),
		slog.Time("end_time", st.EndTime),
	)
	return nil
}

// PlaceBid places a manual bid on a live auction. Version conflicts from
// the event store are retried invisibly against freshly loaded state, up
// to the configured bound.
func (m *Manager) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*BidResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	for attempt := 0; ; attempt++ {
		a, err := m.get(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		res, err := a.PlaceBid(ctx, bidderID, amount, m.clock.Now())
		if err != nil {
			if errors.Is(err, ErrBidTooLow) {
				bidsRejectedCounter.Add(ctx, 1)
			}
			return nil, err
		}

		if err := m.appendOrConflict(ctx, a); err != nil {
			if errors.Is(err, ErrConcurrentModification) && attempt < m.cfg.BidRetries {
				conflictRetriesCounter.Add(ctx, 1)
				m.reload(ctx, auctionID)
				continue
			}
			return nil, err
		}

		bidsAcceptedCounter.Add(ctx, 1, originAttr(OriginManual))
		bidsAcceptedCounter.Add(ctx, int64(len(res.ProxyBids)), originAttr(OriginProxy))
		m.projectBids(ctx, a, append([]Bid{res.Accepted}, res.ProxyBids...))
		m.emitBids(ctx, a.ID, res.EndTime, append([]Bid{res.Accepted}, res.ProxyBids...))
		if res.Extended {
			extensionsCounter.Add(ctx, 1)
			m.scheduleClose(a.ID, res.EndTime)
			m.broadcaster.Emit(ctx, a.ID, EventAuctionExtended, ExtendedPayload{
				AuctionID:  a.ID,
				NewEndTime: res.EndTime,
			})
		}
		return res, nil
	}
}

// RegisterCeiling stores a proxy ceiling and resolves any counter-bids it
// triggers.
func (m *Manager) RegisterCeiling(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*CeilingResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RegisterCeiling",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.String("ceiling", amount.String()),
		),
	)
	defer span.End()

	for attempt := 0; ; attempt++ {
		a, err := m.get(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		res, err := a.RegisterCeiling(ctx, bidderID, amount, m.clock.Now())
		if err != nil {
			return nil, err
		}

		if err := m.appendOrConflict(ctx, a); err != nil {
			if errors.Is(err, ErrConcurrentModification) && attempt < m.cfg.BidRetries {
				conflictRetriesCounter.Add(ctx, 1)
				m.reload(ctx, auctionID)
				continue
			}
			return nil, err
		}

		if err := m.repos.Ceilings.Upsert(ctx, &store.ProxyCeiling{
			ID:           uuid.NewString(),
			AuctionID:    auctionID,
			BidderID:     bidderID,
			Amount:       amount,
			RegisteredAt: res.Ceiling.RegisteredAt,
			Active:       true,
		}); err != nil {
			m.logger.ErrorContext(ctx, "failed to project ceiling row", slog.Any("error", err))
		}

		bidsAcceptedCounter.Add(ctx, int64(len(res.ProxyBids)), originAttr(OriginProxy))
		m.projectBids(ctx, a, res.ProxyBids)
		m.emitBids(ctx, a.ID, res.EndTime, res.ProxyBids)
		if res.Extended {
			extensionsCounter.Add(ctx, 1)
			m.scheduleClose(a.ID, res.EndTime)
			m.broadcaster.Emit(ctx, a.ID, EventAuctionExtended, ExtendedPayload{
				AuctionID:  a.ID,
				NewEndTime: res.EndTime,
			})
		}
		return res, nil
	}
}

// CancelCeiling deactivates a bidder's ceiling.
func (m *Manager) CancelCeiling(ctx context.Context, auctionID, bidderID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.CancelCeiling",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
		),
	)
	defer span.End()

	a, err := m.get(ctx, auctionID)
	if err != nil {
		return err
	}
	if err := a.CancelCeiling(ctx, bidderID); err != nil {
		return err
	}
	m.persist(ctx, a)

	if err := m.repos.Ceilings.Deactivate(ctx, auctionID, bidderID); err != nil {
		m.logger.ErrorContext(ctx, "failed to deactivate ceiling row", slog.Any("error", err))
	}
	return nil
}

// CloseAuction closes an auction and returns the result, regardless of
// how much time remains; this is the admin force-close. Closing an
// already-closed auction returns the stored result without recomputation
// or a second broadcast.
func (m *Manager) CloseAuction(ctx context.Context, auctionID string) (*Result, error) {
	return m.closeAuction(ctx, auctionID, true)
}

// closeAuction is shared by the admin force-close and the scheduled
// close. A timer can fire after a bid has already moved the end time: a
// scheduled close therefore re-checks the deadline under the aggregate
// lock and re-arms the timer instead of finalizing when the auction was
// extended.
func (m *Manager) closeAuction(ctx context.Context, auctionID string, force bool) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CloseAuction",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.Bool("force", force),
		),
	)
	defer span.End()

	for attempt := 0; ; attempt++ {
		a, err := m.get(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		var res *Result
		if force {
			res, err = a.Close(ctx, m.clock.Now())
		} else {
			var nextEnd time.Time
			res, nextEnd, err = a.CloseIfExpired(ctx, m.clock.Now())
			if err == nil && res == nil {
				m.scheduleClose(auctionID, nextEnd)
				m.logger.InfoContext(ctx, "close timer re-armed after extension",
					slog.String("auction_id", auctionID),
					slog.Time("end_time", nextEnd),
				)
				return nil, nil
			}
		}
		if err != nil {
			return nil, err
		}

		pending := a.PendingEvents()
		if len(pending) == 0 {
			// Already closed earlier; nothing new happened.
			return res, nil
		}

		if err := m.repos.Events.Append(ctx, pending...); err != nil {
			if errors.Is(err, event.ErrVersionConflict) && attempt < m.cfg.BidRetries {
				m.reload(ctx, auctionID)
				continue
			}
			m.logger.ErrorContext(ctx, "failed to persist close events", slog.Any("error", err))
		}

		closuresCounter.Add(ctx, 1, outcomeAttr(res.Outcome))
		m.projectClosure(ctx, res)
		m.scheduler.Cancel(auctionID)

		eventType := EventWinnerDetermined
		if res.Outcome == OutcomeNoSale {
			eventType = EventNoSale
		}
		m.broadcaster.Emit(ctx, auctionID, eventType, ClosurePayload{
			AuctionID: res.AuctionID,
			Outcome:   string(res.Outcome),
			WinnerID:  res.WinnerID,
			Amount:    res.Amount,
			Fee:       res.Fee,
			ClosedAt:  res.ClosedAt,
		})

		m.logger.InfoContext(ctx, "auction closure complete",
			slog.String("auction_id", auctionID),
			slog.String("outcome", string(res.Outcome)),
		)
		return res, nil
	}
}

// CancelAuction cancels a live auction without determining a winner.
func (m *Manager) CancelAuction(ctx context.Context, auctionID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.CancelAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := m.get(ctx, auctionID)
	if err != nil {
		return err
	}
	if err := a.Cancel(ctx); err != nil {
		return err
	}
	m.persist(ctx, a)
	m.projectStatus(ctx, auctionID, StatusCancelled)
	m.scheduler.Cancel(auctionID)

	if err := m.repos.Ceilings.DeactivateAll(ctx, auctionID); err != nil {
		m.logger.ErrorContext(ctx, "failed to deactivate ceiling rows", slog.Any("error", err))
	}
	return nil
}

// GetState returns a read-only snapshot of an auction's bidding state.
func (m *Manager) GetState(ctx context.Context, auctionID string) (State, error) {
	a, err := m.get(ctx, auctionID)
	if err != nil {
		return State{}, err
	}
	return a.State(), nil
}

// RecoverLiveAuctions replays all auctions from the event store, loads
// the ones still live into the registry and re-arms their close timers.
// Called on leader startup so auctions survive a failover.
func (m *Manager) RecoverLiveAuctions(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RecoverLiveAuctions")
	defer span.End()

	created, err := m.repos.Events.LoadByType(ctx, event.AuctionCreated)
	if err != nil {
		return 0, fmt.Errorf("loading auction created events: %w", err)
	}

	seen := make(map[string]struct{}, len(created))
	var ids []string
	for _, e := range created {
		if _, ok := seen[e.AggregateID]; !ok {
			seen[e.AggregateID] = struct{}{}
			ids = append(ids, e.AggregateID)
		}
	}

	recovered := 0
	for _, id := range ids {
		a, replayErr := m.ReplayAuction(ctx, id)
		if replayErr != nil {
			m.logger.WarnContext(ctx, "failed to replay auction during recovery",
				slog.String("auction_id", id),
				slog.Any("error", replayErr),
			)
			continue
		}
		st := a.State()
		if st.Status != StatusLive {
			continue
		}

		m.mu.Lock()
		m.auctions[id] = a
		m.mu.Unlock()
		m.scheduleClose(id, st.EndTime)
		recovered++

		m.logger.InfoContext(ctx, "recovered live auction",
			slog.String("auction_id", id),
			slog.Int("bids", st.BidCount),
			slog.Time("end_time", st.EndTime),
		)
	}

	m.logger.InfoContext(ctx, "auction recovery complete",
		slog.Int("total_created", len(ids)),
		slog.Int("recovered_live", recovered),
	)
	return recovered, nil
}

// ReplayAuction reconstructs an auction from stored events.
func (m *Manager) ReplayAuction(ctx context.Context, auctionID string) (*Auction, error) {
	events, err := m.repos.Events.Load(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return Replay(events, m.cfg.Increments, m.cfg.Fees)
}

// Shutdown cancels all armed close timers. Called on process shutdown
// and on losing leadership.
func (m *Manager) Shutdown() {
	m.scheduler.Stop()
}

// get returns the tracked aggregate, loading it from the event store on
// a cold cache.
func (m *Manager) get(ctx context.Context, auctionID string) (*Auction, error) {
	m.mu.RLock()
	a, ok := m.auctions[auctionID]
	m.mu.RUnlock()
	if ok {
		return a, nil
	}

	a, err := m.ReplayAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}

	m.mu.Lock()
	// Another goroutine may have loaded it meanwhile; keep the first.
	if existing, ok := m.auctions[auctionID]; ok {
		a = existing
	} else {
		m.auctions[auctionID] = a
	}
	m.mu.Unlock()
	return a, nil
}

// reload replaces the in-memory aggregate with one rebuilt from the
// persisted history, discarding unpersisted local changes.
func (m *Manager) reload(ctx context.Context, auctionID string) {
	a, err := m.ReplayAuction(ctx, auctionID)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to reload auction after conflict",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		// The cached aggregate still carries the state change whose
		// events lost the conflict and were never persisted. Evict it
		// so the next lookup replays from the store.
		m.mu.Lock()
		delete(m.auctions, auctionID)
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	m.auctions[auctionID] = a
	m.mu.Unlock()
}

// appendOrConflict persists pending events, mapping version conflicts to
// ErrConcurrentModification and logging any other persistence failure
// without failing the accepted command.
func (m *Manager) appendOrConflict(ctx context.Context, a *Auction) error {
	err := m.repos.Events.Append(ctx, a.PendingEvents()...)
	if err == nil {
		return nil
	}
	if errors.Is(err, event.ErrVersionConflict) {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	m.logger.ErrorContext(ctx, "failed to persist events", slog.Any("error", err))
	return nil
}

// persist appends pending events, logging failures rather than failing
// the already-applied command.
func (m *Manager) persist(ctx context.Context, a *Auction) {
	if err := m.repos.Events.Append(ctx, a.PendingEvents()...); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist events", slog.Any("error", err))
	}
}

func (m *Manager) projectStatus(ctx context.Context, auctionID string, status Status) {
	if err := m.repos.Auctions.UpdateStatus(ctx, auctionID, string(status)); err != nil {
		m.logger.ErrorContext(ctx, "failed to project auction status",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) projectBids(ctx context.Context, a *Auction, bids []Bid) {
	for i := range bids {
		b := bids[i]
		if err := m.repos.Bids.Insert(ctx, &store.Bid{
			ID:             b.ID,
			AuctionID:      b.AuctionID,
			BidderID:       b.BidderID,
			Amount:         b.Amount,
			PlacedAt:       b.PlacedAt,
			SequenceNumber: b.Sequence,
			Origin:         string(b.Origin),
		}); err != nil {
			m.logger.ErrorContext(ctx, "failed to project bid row",
				slog.String("bid_id", b.ID),
				slog.Any("error", err),
			)
		}
	}

	st := a.State()
	if !st.HasBid {
		return
	}
	if err := m.repos.Auctions.UpdateHighBid(ctx, st.ID, st.HighAmount, st.HighBidder, st.EndTime); err != nil {
		m.logger.ErrorContext(ctx, "failed to project high bid",
			slog.String("auction_id", st.ID),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) projectClosure(ctx context.Context, res *Result) {
	c := store.Closure{
		Outcome:  string(res.Outcome),
		ClosedAt: res.ClosedAt,
	}
	if res.Outcome == OutcomeSold {
		c.WinnerID = sql.NullString{String: res.WinnerID, Valid: true}
		c.SaleAmount = decimal.NullDecimal{Decimal: res.Amount, Valid: true}
		c.Fee = decimal.NullDecimal{Decimal: res.Fee, Valid: true}
	}
	if err := m.repos.Auctions.Close(ctx, res.AuctionID, c); err != nil {
		m.logger.ErrorContext(ctx, "failed to project closure",
			slog.String("auction_id", res.AuctionID),
			slog.Any("error", err),
		)
	}
	if err := m.repos.Ceilings.DeactivateAll(ctx, res.AuctionID); err != nil {
		m.logger.ErrorContext(ctx, "failed to deactivate ceiling rows",
			slog.String("auction_id", res.AuctionID),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) emitBids(ctx context.Context, auctionID string, endTime time.Time, bids []Bid) {
	for _, b := range bids {
		m.broadcaster.Emit(ctx, auctionID, EventBidAccepted, BidAcceptedPayload{
			AuctionID: auctionID,
			BidID:     b.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			Sequence:  b.Sequence,
			Origin:    string(b.Origin),
			EndTime:   endTime,
		})
	}
}

func (m *Manager) scheduleClose(auctionID string, at time.Time) {
	m.scheduler.Schedule(auctionID, at, func() {
		ctx := context.Background()
		if _, err := m.closeAuction(ctx, auctionID, false); err != nil {
			m.logger.Error("scheduled close failed",
				slog.String("auction_id", auctionID),
				slog.Any("error", err),
			)
		}
	})
}
