package shipping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// RateRequest describes a packed shipment to be rated by a carrier module.
type RateRequest struct {
	StoreID     string
	Origin      pricing.Address
	Destination pricing.Address
	Shipment    PackedShipment
	Currency    pricing.Currency
}

// Carrier defines the behaviour required to rate a packed shipment.
type Carrier interface {
	ID() string
	Rate(ctx context.Context, req RateRequest) (pricing.Money, error)
}

// ErrNoRate is returned by a carrier that does not serve the requested route or weight.
var ErrNoRate = errors.New("carrier has no rate for shipment")

// FlatRate charges a base amount per package plus a fee for every started kilogram.
type FlatRate struct {
	Code     string
	Base     pricing.Money
	PerKilo  pricing.Money
	Currency string
}

// ID returns the carrier code.
func (f FlatRate) ID() string { return f.Code }

// Rate implements Carrier.
func (f FlatRate) Rate(ctx context.Context, req RateRequest) (pricing.Money, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.Currency != "" && req.Currency.Code != "" && f.Currency != req.Currency.Code {
		return 0, fmt.Errorf("%s: %w: currency %s", f.Code, ErrNoRate, req.Currency.Code)
	}
	var total pricing.Money
	for _, p := range req.Shipment.Packages {
		total += f.Base + f.PerKilo*startedKilos(p.WeightGrams())
	}
	return total, nil
}

// WeightTier prices a single package up to MaxWeightGrams.
type WeightTier struct {
	MaxWeightGrams int64
	Amount         pricing.Money
}

// TableRate looks every package up in a weight tier table, optionally limited to destination countries.
type TableRate struct {
	Code      string
	Tiers     []WeightTier
	Countries []string
}

// ID returns the carrier code.
func (t TableRate) ID() string { return t.Code }

// Rate implements Carrier.
func (t TableRate) Rate(ctx context.Context, req RateRequest) (pricing.Money, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(t.Countries) > 0 && !containsFold(t.Countries, req.Destination.CountryCode) {
		return 0, fmt.Errorf("%s: %w: destination %s", t.Code, ErrNoRate, req.Destination.CountryCode)
	}
	tiers := append([]WeightTier(nil), t.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxWeightGrams < tiers[j].MaxWeightGrams })

	var total pricing.Money
	for _, p := range req.Shipment.Packages {
		w := p.WeightGrams()
		idx := sort.Search(len(tiers), func(i int) bool { return tiers[i].MaxWeightGrams >= w })
		if idx == len(tiers) {
			return 0, fmt.Errorf("%s: %w: package of %dg", t.Code, ErrNoRate, w)
		}
		total += tiers[idx].Amount
	}
	return total, nil
}

func startedKilos(grams int64) int64 {
	if grams <= 0 {
		return 0
	}
	return (grams + 999) / 1000
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
