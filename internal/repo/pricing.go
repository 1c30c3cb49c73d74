package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Pricing reads price tables and tax rules.
type Pricing struct {
	db DB
}

// NewPricing constructs a Pricing repository.
func NewPricing(db DB) *Pricing {
	return &Pricing{db: db}
}

var (
	_ pricing.PriceSource   = (*Pricing)(nil)
	_ pricing.TaxRuleSource = (*Pricing)(nil)
)

// Prices returns every price row of a SKU. Selection by kind and validity happens in the calculator.
func (p *Pricing) Prices(ctx context.Context, storeID, sku string) ([]pricing.PriceRecord, error) {
	if p == nil || p.db == nil {
		return nil, ErrUnavailable
	}
	rows, err := p.db.Query(ctx, `SELECT sku, kind, customer_id, group_id, amount::text, valid_from, valid_to
FROM prices WHERE store_id = $1 AND sku = $2 ORDER BY id`, storeID, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pricing.PriceRecord
	for rows.Next() {
		var (
			rec       pricing.PriceRecord
			kind      string
			amount    string
			validFrom *time.Time
			validTo   *time.Time
		)
		if err := rows.Scan(&rec.SKU, &kind, &rec.CustomerID, &rec.GroupID, &amount, &validFrom, &validTo); err != nil {
			return nil, err
		}
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		rec.Kind = pricing.PriceKind(kind)
		rec.ValidFrom = validFrom
		rec.ValidTo = validTo
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TaxRules returns country-wide rules and rules of the given zone, highest priority first.
func (p *Pricing) TaxRules(ctx context.Context, storeID, countryCode, zoneCode string) ([]pricing.TaxRule, error) {
	if p == nil || p.db == nil {
		return nil, ErrUnavailable
	}
	rows, err := p.db.Query(ctx, `SELECT id, country_code, zone_code, tax_class, rate::text, priority
FROM tax_rules
WHERE store_id = $1 AND country_code = $2 AND (zone_code = '' OR zone_code = $3)
ORDER BY priority DESC, id`, storeID, countryCode, zoneCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pricing.TaxRule
	for rows.Next() {
		var (
			rule pricing.TaxRule
			rate string
		)
		if err := rows.Scan(&rule.ID, &rule.CountryCode, &rule.ZoneCode, &rule.TaxClass, &rate, &rule.Priority); err != nil {
			return nil, err
		}
		if rule.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
