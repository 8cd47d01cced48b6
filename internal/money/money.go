// Package money holds the monetary schedules used by the auction engine:
// the platform fee taken from a final sale and the minimum bid increment
// required to outbid the current price. All arithmetic is decimal to avoid
// floating-point drift on currency values.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const centPrecision int32 = 2

// FeeTier applies Percent to sales up to and including UpTo.
// A zero UpTo marks the open-ended top tier.
type FeeTier struct {
	UpTo    decimal.Decimal
	Percent decimal.Decimal
}

// FeeSchedule computes the platform fee for a sale amount: the tier
// percentage of the sale, never less than Minimum.
type FeeSchedule struct {
	Tiers   []FeeTier
	Minimum decimal.Decimal
}

// DefaultFeeSchedule is the standard sliding scale: 5% up to 100,
// 4% up to 1000, 3% above, with a 2.50 floor.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Tiers: []FeeTier{
			{UpTo: decimal.NewFromInt(100), Percent: decimal.NewFromFloat(0.05)},
			{UpTo: decimal.NewFromInt(1000), Percent: decimal.NewFromFloat(0.04)},
			{Percent: decimal.NewFromFloat(0.03)},
		},
		Minimum: decimal.NewFromFloat(2.50),
	}
}

// Fee returns the platform fee for the given sale amount, rounded to cents.
// The sale amount must be positive.
func (s FeeSchedule) Fee(sale decimal.Decimal) (decimal.Decimal, error) {
	if !sale.IsPositive() {
		return decimal.Zero, fmt.Errorf("fee requires a positive sale amount, got %s", sale)
	}
	fee := sale.Mul(s.percentFor(sale)).Round(centPrecision)
	if fee.LessThan(s.Minimum) {
		return s.Minimum, nil
	}
	return fee, nil
}

func (s FeeSchedule) percentFor(sale decimal.Decimal) decimal.Decimal {
	for _, t := range s.Tiers {
		if t.UpTo.IsZero() || sale.LessThanOrEqual(t.UpTo) {
			return t.Percent
		}
	}
	return decimal.Zero
}

// IncrementTier applies Step to prices up to and including UpTo.
// A zero UpTo marks the open-ended top tier.
type IncrementTier struct {
	UpTo decimal.Decimal
	Step decimal.Decimal
}

// IncrementSchedule maps a current price to the minimum amount the next
// bid must add on top of it.
type IncrementSchedule struct {
	Tiers []IncrementTier
}

// FixedIncrement returns a schedule with a single flat step.
func FixedIncrement(step decimal.Decimal) IncrementSchedule {
	return IncrementSchedule{Tiers: []IncrementTier{{Step: step}}}
}

// DefaultIncrementSchedule is the standard ladder: 5 up to 100, 10 up to
// 500, 25 up to 1000, 50 above.
func DefaultIncrementSchedule() IncrementSchedule {
	return IncrementSchedule{
		Tiers: []IncrementTier{
			{UpTo: decimal.NewFromInt(100), Step: decimal.NewFromInt(5)},
			{UpTo: decimal.NewFromInt(500), Step: decimal.NewFromInt(10)},
			{UpTo: decimal.NewFromInt(1000), Step: decimal.NewFromInt(25)},
			{Step: decimal.NewFromInt(50)},
		},
	}
}

// For returns the minimum increment on top of the given current price.
func (s IncrementSchedule) For(current decimal.Decimal) decimal.Decimal {
	for _, t := range s.Tiers {
		if t.UpTo.IsZero() || current.LessThanOrEqual(t.UpTo) {
			return t.Step
		}
	}
	return decimal.Zero
}
