package auction

import (
	"encoding/json"
	"fmt"

	"github.com/artsfund/auction-engine/internal/event"
	"github.com/artsfund/auction-engine/internal/money"
)

// Replay reconstructs an auction from its event history. The monetary
// schedules are configuration rather than history, so the caller supplies
// them.
func Replay(events []event.Event, increments money.IncrementSchedule, fees money.FeeSchedule) (*Auction, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events to replay")
	}

	a := &Auction{Increments: increments, Fees: fees}
	for _, e := range events {
		switch e.Type {
		case event.AuctionCreated:
			var d event.AuctionCreatedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling created event: %w", err)
			}
			a.ID = e.AggregateID
			a.Title = d.Title
			a.ReservePrice = d.ReservePrice
			a.StartTime = d.StartTime
			a.EndTime = d.EndTime
			a.AutoExtendWindow = d.AutoExtendWindow
			a.AutoExtendDuration = d.AutoExtendDuration
			a.Status = StatusDraft

		case event.AuctionApproved:
			a.Status = StatusApproved

		case event.AuctionActivated:
			var d event.AuctionActivatedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling activated event: %w", err)
			}
			a.Status = StatusLive
			a.StartTime = d.StartTime
			a.EndTime = d.EndTime

		case event.AuctionExtended:
			var d event.AuctionExtendedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling extended event: %w", err)
			}
			a.EndTime = d.NewEndTime

		case event.BidPlaced:
			var d event.BidPlacedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling bid event: %w", err)
			}
			a.bids = append(a.bids, Bid{
				ID:        d.BidID,
				AuctionID: e.AggregateID,
				BidderID:  d.BidderID,
				Amount:    d.Amount,
				PlacedAt:  d.PlacedAt,
				Sequence:  d.Sequence,
				Origin:    Origin(d.Origin),
			})
			a.highAmount = d.Amount
			a.highBidder = d.BidderID

		case event.CeilingRegistered:
			var d event.CeilingRegisteredData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling ceiling event: %w", err)
			}
			for i := range a.ceilings {
				if a.ceilings[i].BidderID == d.BidderID {
					a.ceilings[i].Active = false
				}
			}
			a.ceilings = append(a.ceilings, ProxyCeiling{
				BidderID:     d.BidderID,
				Amount:       d.Amount,
				RegisteredAt: d.RegisteredAt,
				Active:       true,
			})

		case event.CeilingCancelled:
			var d event.CeilingCancelledData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling ceiling cancel event: %w", err)
			}
			for i := range a.ceilings {
				if a.ceilings[i].BidderID == d.BidderID {
					a.ceilings[i].Active = false
				}
			}

		case event.AuctionClosed:
			var d event.AuctionClosedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling closed event: %w", err)
			}
			for i := range a.ceilings {
				a.ceilings[i].Active = false
			}
			a.Status = StatusClosed
			a.result = &Result{
				AuctionID: e.AggregateID,
				Outcome:   Outcome(d.Outcome),
				WinnerID:  d.WinnerID,
				Amount:    d.Amount,
				Fee:       d.Fee,
				ClosedAt:  d.ClosedAt,
			}

		case event.AuctionCancelled:
			for i := range a.ceilings {
				a.ceilings[i].Active = false
			}
			a.Status = StatusCancelled
		}
		a.Version = e.Version
	}
	return a, nil
}
