package voucher

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Reasons a voucher contributes nothing. They end up in summary warnings.
var (
	ErrUnknownCode       = errors.New("unknown code")
	ErrNotStarted        = errors.New("not active yet")
	ErrExpired           = errors.New("expired")
	ErrUsageExhausted    = errors.New("usage limit reached")
	ErrCustomerLimit     = errors.New("customer usage limit reached")
	ErrBelowMinimumSpend = errors.New("minimum spend not met")
	ErrNotApplicable     = errors.New("no matching cart lines")
	ErrNotCombinable     = errors.New("cannot be combined with other vouchers")
	ErrFullyDiscounted   = errors.New("cart is already fully discounted")
)

const (
	KindFixed   = "fixed"
	KindPercent = "percent"
)

// Rule is a store voucher as loaded from the source. Amounts are in minor units;
// PercentBps is in basis points (1000 = 10%).
type Rule struct {
	ID           string
	Code         string
	Title        string
	Kind         string
	Value        pricing.Money
	PercentBps   *int32
	MaxDiscount  pricing.Money
	MinSpend     pricing.Money
	UsageLimit   *int32
	UsedCount    int32
	PerUserLimit *int32
	ValidFrom    *time.Time
	ValidTo      *time.Time
	SKUs         []string
	CategoryIDs  []string
	Combinable   bool
	Priority     int

	// Set by Service from the customer's history.
	CustomerLimit int32
	CustomerUsed  int32
}

// Item is the part of a priced line a voucher can match on.
type Item struct {
	SKU        string
	CategoryID string
	Subtotal   pricing.Money
}

// Check reports why the voucher cannot be used at now for a cart worth subtotal.
// The window is checked first, then usage, then minimum spend.
func (r Rule) Check(now time.Time, subtotal pricing.Money) error {
	switch {
	case r.ValidFrom != nil && now.Before(*r.ValidFrom):
		return ErrNotStarted
	case r.ValidTo != nil && now.After(*r.ValidTo):
		return ErrExpired
	case r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit:
		return ErrUsageExhausted
	case r.CustomerLimit > 0 && r.CustomerUsed >= r.CustomerLimit:
		return ErrCustomerLimit
	case subtotal < r.MinSpend:
		return ErrBelowMinimumSpend
	}
	return nil
}

// Eligible sums the subtotals of the lines in the voucher's scope. A voucher
// without SKUs or categories covers every line.
func (r Rule) Eligible(items []Item) pricing.Money {
	var total pricing.Money
	for _, it := range items {
		if it.Subtotal > 0 && r.covers(it) {
			total += it.Subtotal
		}
	}
	return total
}

func (r Rule) covers(it Item) bool {
	if len(r.SKUs) == 0 && len(r.CategoryIDs) == 0 {
		return true
	}
	if slices.ContainsFunc(r.SKUs, func(sku string) bool { return strings.EqualFold(sku, it.SKU) }) {
		return true
	}
	return it.CategoryID != "" && slices.Contains(r.CategoryIDs, it.CategoryID)
}

// Amount is the discount on an eligible subtotal: a fixed value or a percentage
// rounded down, capped by MaxDiscount and never above eligible.
func (r Rule) Amount(eligible pricing.Money) pricing.Money {
	if eligible <= 0 {
		return 0
	}
	amount := r.Value
	if strings.EqualFold(r.Kind, KindPercent) {
		if r.PercentBps == nil || *r.PercentBps <= 0 {
			return 0
		}
		amount = eligible * pricing.Money(*r.PercentBps) / 10000
	}
	if r.MaxDiscount > 0 {
		amount = min(amount, r.MaxDiscount)
	}
	return max(min(amount, eligible), 0)
}
