package auction

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/artsfund/auction-engine/internal/event"
	"github.com/artsfund/auction-engine/internal/money"
)

var tracer = otel.Tracer("github.com/artsfund/auction-engine/internal/auction")

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusLive      Status = "live"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Origin distinguishes bids typed in by a bidder from bids the engine
// generated on a bidder's behalf.
type Origin string

const (
	OriginManual Origin = "manual"
	OriginProxy  Origin = "proxy"
)

// Bid is a single accepted bid. Bids are immutable once appended; the
// ledger keeps the full history and only the auction's current high
// state moves.
type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Amount    decimal.Decimal
	PlacedAt  time.Time
	Sequence  int64
	Origin    Origin
}

// ProxyCeiling is a bidder's standing instruction to counter-bid
// automatically up to Amount.
type ProxyCeiling struct {
	BidderID     string
	Amount       decimal.Decimal
	RegisteredAt time.Time
	Active       bool
}

// Outcome is the terminal result classification of a closed auction.
type Outcome string

const (
	OutcomeSold   Outcome = "sold"
	OutcomeNoSale Outcome = "no_sale"
)

// Result is the closure outcome. It is computed exactly once; repeated
// closes return the same value.
type Result struct {
	AuctionID string
	Outcome   Outcome
	WinnerID  string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	ClosedAt  time.Time
}

// Config carries everything needed to construct an auction aggregate.
type Config struct {
	ID                 string
	Title              string
	ReservePrice       decimal.Decimal
	StartTime          time.Time
	EndTime            time.Time
	AutoExtendWindow   time.Duration
	AutoExtendDuration time.Duration
	Increments         money.IncrementSchedule
	Fees               money.FeeSchedule
}

// Auction is the aggregate root for a single artwork auction: the status
// machine, the bid ledger and the active proxy ceilings. All mutating
// methods run under the aggregate's own mutex, so bids, proxy
// resolution, auto-extension and closure for one auction are serialized
// with each other. It is safe for concurrent use.
type Auction struct {
	mu sync.Mutex

	ID                 string
	Title              string
	Status             Status
	ReservePrice       decimal.Decimal
	StartTime          time.Time
	EndTime            time.Time
	AutoExtendWindow   time.Duration
	AutoExtendDuration time.Duration
	Increments         money.IncrementSchedule
	Fees               money.FeeSchedule
	Version            int

	bids       []Bid
	ceilings   []ProxyCeiling
	highAmount decimal.Decimal
	highBidder string
	result     *Result

	events []event.Event
}

// New creates a draft auction and records a created event.
func New(cfg Config) *Auction {
	a := &Auction{
		ID:                 cfg.ID,
		Title:              cfg.Title,
		Status:             StatusDraft,
		ReservePrice:       cfg.ReservePrice,
		StartTime:          cfg.StartTime,
		EndTime:            cfg.EndTime,
		AutoExtendWindow:   cfg.AutoExtendWindow,
		AutoExtendDuration: cfg.AutoExtendDuration,
		Increments:         cfg.Increments,
		Fees:               cfg.Fees,
	}

	data, _ := json.Marshal(event.AuctionCreatedData{
		Title:              cfg.Title,
		ReservePrice:       cfg.ReservePrice,
		StartTime:          cfg.StartTime,
		EndTime:            cfg.EndTime,
		AutoExtendWindow:   cfg.AutoExtendWindow,
		AutoExtendDuration: cfg.AutoExtendDuration,
	})
	a.recordEvent(event.AuctionCreated, data)
	return a
}

// Approve moves a draft auction to approved.
func (a *Auction) Approve(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Auction.Approve",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusDraft {
		return &TransitionError{From: a.Status, To: StatusApproved}
	}
	a.Status = StatusApproved
	a.recordEvent(event.AuctionApproved, json.RawMessage(`{}`))
	return nil
}

// Activate moves an approved auction to live. The auction starts at now;
// a configured end time in the past is rejected upstream by validation,
// not here.
func (a *Auction) Activate(ctx context.Context, now time.Time) error {
	_, span := tracer.Start(ctx, "Auction.Activate",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusApproved {
		return &TransitionError{From: a.Status, To: StatusLive}
	}
	a.Status = StatusLive
	if a.StartTime.IsZero() || a.StartTime.After(now) {
		a.StartTime = now
	}

	data, _ := json.Marshal(event.AuctionActivatedData{
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
	})
	a.recordEvent(event.AuctionActivated, data)
	return nil
}

// BidResult is what a caller observes after a bid is accepted: the bid
// itself, any proxy counter-bids it triggered, the pre-bid high state for
// diffing, and the extension outcome.
type BidResult struct {
	Accepted  Bid
	ProxyBids []Bid

	PriorAmount decimal.Decimal
	PriorBidder string
	HadPrior    bool

	// Final state after proxy resolution.
	Amount decimal.Decimal
	Leader string

	Extended bool
	EndTime  time.Time
}

// PlaceBid validates and appends a manual bid, resolves proxy
// counter-bids and evaluates auto-extension, all in one critical section.
func (a *Auction) PlaceBid(ctx context.Context, bidderID string, amount decimal.Decimal, now time.Time) (*BidResult, error) {
	ctx, span := tracer.Start(ctx, "Auction.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("bidder.id", bidderID),
			attribute.String("bid.amount", amount.String()),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusLive {
		return nil, ErrAuctionNotLive
	}
	if !now.Before(a.EndTime) {
		return nil, ErrAuctionExpired
	}

	minimum := a.ReservePrice
	if len(a.bids) > 0 {
		minimum = a.highAmount.Add(a.Increments.For(a.highAmount))
	}
	if amount.LessThan(minimum) || !amount.IsPositive() {
		return nil, &BidTooLowError{Minimum: minimum}
	}

	res := &BidResult{
		PriorAmount: a.highAmount,
		PriorBidder: a.highBidder,
		HadPrior:    len(a.bids) > 0,
	}

	res.Accepted = a.appendBid(bidderID, amount, now, OriginManual)
	res.ProxyBids = a.resolveProxies(now)
	res.Extended = a.evaluateAutoExtend(now)
	res.Amount = a.highAmount
	res.Leader = a.highBidder
	res.EndTime = a.EndTime

	slog.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", a.ID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.String()),
		slog.Int64("sequence", res.Accepted.Sequence),
		slog.Int("proxy_bids", len(res.ProxyBids)),
	)
	return res, nil
}

// CeilingResult is what a caller observes after registering a ceiling.
type CeilingResult struct {
	Ceiling   ProxyCeiling
	ProxyBids []Bid
	Amount    decimal.Decimal
	Leader    string
	Extended  bool
	EndTime   time.Time
}

// RegisterCeiling stores a proxy ceiling for the bidder and immediately
// resolves counter-bidding; a new, higher ceiling can unseat the current
// leader without a fresh manual bid. A bidder re-registering replaces
// their previous ceiling.
func (a *Auction) RegisterCeiling(ctx context.Context, bidderID string, amount decimal.Decimal, now time.Time) (*CeilingResult, error) {
	ctx, span := tracer.Start(ctx, "Auction.RegisterCeiling",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("bidder.id", bidderID),
			attribute.String("ceiling.amount", amount.String()),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusLive {
		return nil, ErrAuctionNotLive
	}
	if !now.Before(a.EndTime) {
		return nil, ErrAuctionExpired
	}
	if len(a.bids) > 0 {
		if !amount.GreaterThan(a.highAmount) {
			return nil, ErrInvalidProxyCeiling
		}
	} else if amount.LessThan(a.ReservePrice) || !amount.IsPositive() {
		return nil, ErrInvalidProxyCeiling
	}

	// Replace any previous ceiling for this bidder.
	for i := range a.ceilings {
		if a.ceilings[i].BidderID == bidderID {
			a.ceilings[i].Active = false
		}
	}
	c := ProxyCeiling{
		BidderID:     bidderID,
		Amount:       amount,
		RegisteredAt: now,
		Active:       true,
	}
	a.ceilings = append(a.ceilings, c)

	data, _ := json.Marshal(event.CeilingRegisteredData{
		BidderID:     bidderID,
		Amount:       amount,
		RegisteredAt: now,
	})
	a.recordEvent(event.CeilingRegistered, data)

	res := &CeilingResult{Ceiling: c}
	res.ProxyBids = a.resolveProxies(now)
	if len(res.ProxyBids) > 0 {
		res.Extended = a.evaluateAutoExtend(now)
	}
	res.Amount = a.highAmount
	res.Leader = a.highBidder
	res.EndTime = a.EndTime

	slog.InfoContext(ctx, "ceiling registered",
		slog.String("auction_id", a.ID),
		slog.String("bidder_id", bidderID),
		slog.String("ceiling", amount.String()),
		slog.Int("proxy_bids", len(res.ProxyBids)),
	)
	return res, nil
}

// CancelCeiling deactivates the bidder's ceiling. It takes effect on the
// next resolution pass; bids already placed on the bidder's behalf stand.
func (a *Auction) CancelCeiling(ctx context.Context, bidderID string) error {
	_, span := tracer.Start(ctx, "Auction.CancelCeiling",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("bidder.id", bidderID),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusLive {
		return ErrAuctionNotLive
	}

	found := false
	for i := range a.ceilings {
		if a.ceilings[i].BidderID == bidderID && a.ceilings[i].Active {
			a.ceilings[i].Active = false
			found = true
		}
	}
	if !found {
		return nil
	}

	data, _ := json.Marshal(event.CeilingCancelledData{BidderID: bidderID})
	a.recordEvent(event.CeilingCancelled, data)
	return nil
}

// Close transitions the auction to closed and computes the outcome
// regardless of the time remaining; this is the force-close path.
// Closing an already-closed auction is a no-op returning the stored
// result, so a scheduled timer racing an admin force-close is harmless.
func (a *Auction) Close(ctx context.Context, now time.Time) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Auction.Close",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked(ctx, now)
}

// CloseIfExpired closes the auction only when its end time has passed.
// If a bid extended the auction after the caller's timer was armed, it
// returns a nil result and the current end time so the timer can be
// re-armed. The deadline check and the closure share one critical
// section with PlaceBid, so an extension granted to a bid cannot be
// overwritten by a concurrently firing close timer.
func (a *Auction) CloseIfExpired(ctx context.Context, now time.Time) (*Result, time.Time, error) {
	ctx, span := tracer.Start(ctx, "Auction.CloseIfExpired",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status == StatusLive && now.Before(a.EndTime) {
		return nil, a.EndTime, nil
	}
	res, err := a.closeLocked(ctx, now)
	return res, time.Time{}, err
}

// closeLocked computes the outcome and records the closed event. Caller
// holds the lock.
func (a *Auction) closeLocked(ctx context.Context, now time.Time) (*Result, error) {
	if a.Status == StatusClosed {
		r := *a.result
		return &r, nil
	}
	if a.Status != StatusLive {
		return nil, ErrAuctionNotLive
	}

	res := Result{
		AuctionID: a.ID,
		Outcome:   OutcomeNoSale,
		ClosedAt:  now,
	}
	if len(a.bids) > 0 && !a.highAmount.LessThan(a.ReservePrice) {
		fee, err := a.Fees.Fee(a.highAmount)
		if err != nil {
			return nil, err
		}
		res.Outcome = OutcomeSold
		res.WinnerID = a.highBidder
		res.Amount = a.highAmount
		res.Fee = fee
	}

	for i := range a.ceilings {
		a.ceilings[i].Active = false
	}
	a.Status = StatusClosed
	a.result = &res

	data, _ := json.Marshal(event.AuctionClosedData{
		Outcome:  string(res.Outcome),
		WinnerID: res.WinnerID,
		Amount:   res.Amount,
		Fee:      res.Fee,
		ClosedAt: now,
	})
	a.recordEvent(event.AuctionClosed, data)

	slog.InfoContext(ctx, "auction closed",
		slog.String("auction_id", a.ID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("winner_id", res.WinnerID),
		slog.String("amount", res.Amount.String()),
	)
	r := res
	return &r, nil
}

// Cancel transitions a live auction to cancelled and deactivates all
// ceilings. Bid history is kept.
func (a *Auction) Cancel(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Auction.Cancel",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusLive {
		return &TransitionError{From: a.Status, To: StatusCancelled}
	}
	for i := range a.ceilings {
		a.ceilings[i].Active = false
	}
	a.Status = StatusCancelled
	a.recordEvent(event.AuctionCancelled, json.RawMessage(`{}`))
	return nil
}

// State is a read-only snapshot of the auction's bidding state.
type State struct {
	ID             string
	Status         Status
	HighAmount     decimal.Decimal
	HighBidder     string
	HasBid         bool
	Sequence       int64
	EndTime        time.Time
	BidCount       int
	ActiveCeilings int
}

// State returns a consistent snapshot. It only waits for an in-flight
// critical section, never for I/O.
func (a *Auction) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := State{
		ID:         a.ID,
		Status:     a.Status,
		HighAmount: a.highAmount,
		HighBidder: a.highBidder,
		HasBid:     len(a.bids) > 0,
		Sequence:   int64(len(a.bids)),
		EndTime:    a.EndTime,
		BidCount:   len(a.bids),
	}
	for _, c := range a.ceilings {
		if c.Active {
			s.ActiveCeilings++
		}
	}
	return s
}

// Bids returns a copy of the ledger in sequence order.
func (a *Auction) Bids() []Bid {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Bid, len(a.bids))
	copy(out, a.bids)
	return out
}

// ClosureResult returns the stored result for a closed auction, or nil.
func (a *Auction) ClosureResult() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return nil
	}
	r := *a.result
	return &r
}

// appendBid assigns the next sequence number, appends to the ledger and
// moves the high state. Caller holds the lock.
func (a *Auction) appendBid(bidderID string, amount decimal.Decimal, at time.Time, origin Origin) Bid {
	b := Bid{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  at,
		Sequence:  int64(len(a.bids)) + 1,
		Origin:    origin,
	}
	a.bids = append(a.bids, b)
	a.highAmount = amount
	a.highBidder = bidderID

	data, _ := json.Marshal(event.BidPlacedData{
		BidID:    b.ID,
		BidderID: b.BidderID,
		Amount:   b.Amount,
		Sequence: b.Sequence,
		Origin:   string(b.Origin),
		PlacedAt: b.PlacedAt,
	})
	a.recordEvent(event.BidPlaced, data)
	return b
}

// evaluateAutoExtend pushes the end time out when activity lands inside
// the closing window. The new end time is a single recomputation from the
// triggering instant, not cumulative with prior extensions. Caller holds
// the lock.
func (a *Auction) evaluateAutoExtend(triggeredAt time.Time) bool {
	if a.AutoExtendWindow <= 0 {
		return false
	}
	if a.EndTime.Sub(triggeredAt) >= a.AutoExtendWindow {
		return false
	}
	a.EndTime = triggeredAt.Add(a.AutoExtendDuration)

	data, _ := json.Marshal(event.AuctionExtendedData{
		NewEndTime:  a.EndTime,
		TriggeredAt: triggeredAt,
	})
	a.recordEvent(event.AuctionExtended, data)
	return true
}

// PendingEvents returns uncommitted events and clears the buffer.
func (a *Auction) PendingEvents() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := a.events
	a.events = nil
	return events
}

func (a *Auction) recordEvent(t event.Type, data json.RawMessage) {
	a.Version++
	a.events = append(a.events, event.Event{
		AggregateID: a.ID,
		Type:        t,
		Data:        data,
		Version:     a.Version,
	})
}
