package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// resolveProxies runs automatic counter-bidding among the active ceilings
// until no ceiling can improve its owner's position. Caller holds the lock.
//
// Each pass picks the strongest challenger: the highest active ceiling
// belonging to someone other than the current leader that exceeds the
// current price, ties broken by earliest registration. Then:
//
//   - if the leader's own ceiling strictly beats the challenger, the
//     leader defends with one increment above the challenger's ceiling
//     (capped at the leader's ceiling) and the challenger is spent;
//   - if the challenger beats the leader's ceiling (or the leader has
//     none), the challenger takes the lead at one increment above the
//     strongest stake it defeated, capped at its own ceiling;
//   - equal ceilings go to the earlier registration: a later equal
//     challenger is dropped without moving the price.
//
// Every pass permanently spends one ceiling, so resolution finishes
// within the number of active ceilings.
func (a *Auction) resolveProxies(now time.Time) []Bid {
	var placed []Bid

	// With an empty ledger the strongest ceiling opens the bidding at the
	// reserve price.
	if len(a.bids) == 0 {
		open, ok := a.strongestCeiling(func(c *ProxyCeiling) bool { return true })
		if !ok {
			return nil
		}
		price := a.ReservePrice
		if !price.IsPositive() {
			price = decimal.Min(open.Amount, a.Increments.For(decimal.Zero))
		}
		placed = append(placed, a.appendBid(open.BidderID, price, now, OriginProxy))
	}

	spent := make(map[string]bool)
	for {
		leader := a.highBidder
		leaderCeiling, leaderHas := a.activeCeiling(leader)

		challenger, ok := a.strongestCeiling(func(c *ProxyCeiling) bool {
			return c.BidderID != leader && !spent[c.BidderID] && c.Amount.GreaterThan(a.highAmount)
		})
		if !ok {
			return placed
		}

		increment := a.Increments.For(a.highAmount)
		switch {
		case leaderHas && leaderCeiling.Amount.GreaterThan(challenger.Amount):
			// Leader's ceiling wins outright; defend just above the
			// challenger's ceiling.
			amount := decimal.Min(leaderCeiling.Amount, challenger.Amount.Add(increment))
			placed = append(placed, a.appendBid(leader, amount, now, OriginProxy))

		case leaderHas && leaderCeiling.Amount.Equal(challenger.Amount) &&
			!leaderCeiling.RegisteredAt.After(challenger.RegisteredAt):
			// Earlier registration holds the lead at the current price.
			spent[challenger.BidderID] = true

		default:
			defeated := a.highAmount
			if leaderHas && leaderCeiling.Amount.GreaterThan(defeated) {
				defeated = leaderCeiling.Amount
			}
			amount := decimal.Min(challenger.Amount, defeated.Add(increment))
			placed = append(placed, a.appendBid(challenger.BidderID, amount, now, OriginProxy))
		}
	}
}

// strongestCeiling returns the active ceiling with the highest amount
// among those matching eligible, ties broken by earliest registration.
// Caller holds the lock.
func (a *Auction) strongestCeiling(eligible func(*ProxyCeiling) bool) (ProxyCeiling, bool) {
	var best *ProxyCeiling
	for i := range a.ceilings {
		c := &a.ceilings[i]
		if !c.Active || !eligible(c) {
			continue
		}
		if best == nil ||
			c.Amount.GreaterThan(best.Amount) ||
			(c.Amount.Equal(best.Amount) && c.RegisteredAt.Before(best.RegisteredAt)) {
			best = c
		}
	}
	if best == nil {
		return ProxyCeiling{}, false
	}
	return *best, true
}

// activeCeiling returns the bidder's active ceiling, if any. Caller holds
// the lock.
func (a *Auction) activeCeiling(bidderID string) (ProxyCeiling, bool) {
	for i := range a.ceilings {
		if a.ceilings[i].Active && a.ceilings[i].BidderID == bidderID {
			return a.ceilings[i], true
		}
	}
	return ProxyCeiling{}, false
}
