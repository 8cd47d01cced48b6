package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errors returned by auction operations.
var (
	ErrAuctionNotFound        = errors.New("auction not found")
	ErrAuctionNotLive         = errors.New("auction is not live")
	ErrAuctionExpired         = errors.New("auction has ended")
	ErrBidTooLow              = errors.New("bid is below the minimum acceptable amount")
	ErrInvalidProxyCeiling    = errors.New("ceiling does not exceed the current price")
	ErrIllegalTransition      = errors.New("illegal status transition")
	ErrConcurrentModification = errors.New("auction was modified concurrently")
	ErrInvalidParams          = errors.New("invalid auction parameters")
)

// BidTooLowError rejects a bid and carries the minimum amount that would
// have been accepted, for presentation to the bidder.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid is below the minimum acceptable amount of %s", e.Minimum)
}

// Is reports a match against ErrBidTooLow so callers can use errors.Is
// without caring about the carried minimum.
func (e *BidTooLowError) Is(target error) bool { return target == ErrBidTooLow }

// TransitionError carries the offending edge of a rejected status change.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }
