package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// Currency describes an ISO currency and the precision of its minor unit.
type Currency struct {
	Code       string `json:"code"`
	MinorUnits int32  `json:"minorUnits"`
}

// ToMinor converts a major-unit amount to minor units using round-half-up.
func (c Currency) ToMinor(amount decimal.Decimal) Money {
	return amount.Shift(c.MinorUnits).Round(0).IntPart()
}

// FromMinor converts minor units back to a major-unit decimal.
func (c Currency) FromMinor(amount Money) decimal.Decimal {
	return decimal.New(amount, -c.MinorUnits)
}

// Format renders the amount with the currency precision, e.g. "USD 12.50".
func (c Currency) Format(amount Money) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(c.Code), c.FromMinor(amount).StringFixed(c.MinorUnits))
}

// RoundShare applies rate to amount (both in minor units) and rounds half-up to a whole minor unit.
func RoundShare(amount Money, rate decimal.Decimal) Money {
	if amount == 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}
