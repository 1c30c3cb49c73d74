package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// ShippingTaxClass marks rules that apply to the shipping charge.
const ShippingTaxClass = "shipping"

// TaxRule is a rate applicable to a jurisdiction and optionally a tax class.
type TaxRule struct {
	ID          string
	CountryCode string
	ZoneCode    string
	TaxClass    string
	Rate        decimal.Decimal
	Priority    int
}

func (r TaxRule) appliesToClass(class string) bool {
	return r.TaxClass == "" || strings.EqualFold(r.TaxClass, class)
}

// TaxRuleSource supplies the tax rules of a store for a jurisdiction.
type TaxRuleSource interface {
	TaxRules(ctx context.Context, storeID, countryCode, zoneCode string) ([]TaxRule, error)
}

// TaxResult carries taxed lines and the data the aggregator needs to tax shipping.
type TaxResult struct {
	Lines         []PricedLine
	Total         Money
	OnShipping    bool
	ShippingRates []decimal.Decimal
}

// TaxResolver computes per-line tax from the store's rules.
type TaxResolver struct {
	Rules TaxRuleSource
}

// ApplyTax returns copies of lines with Tax populated. Each rule's share is
// rounded per line before summation.
func (t *TaxResolver) ApplyTax(ctx context.Context, lines []PricedLine, store Store, customer *Customer) (TaxResult, error) {
	if t == nil || t.Rules == nil {
		return TaxResult{}, errors.New("pricing: tax rule source not configured")
	}
	country, zone := store.CountryCode, store.ZoneCode
	if customer != nil && customer.Billing != nil && customer.Billing.CountryCode != "" {
		country, zone = customer.Billing.CountryCode, customer.Billing.ZoneCode
	}
	rules, err := t.Rules.TaxRules(ctx, store.ID, country, zone)
	if err != nil {
		return TaxResult{}, fmt.Errorf("load tax rules: %w", err)
	}
	if len(rules) == 0 && store.TaxMandatory {
		return TaxResult{}, TaxConfigurationMissingError(store.ID, country, zone)
	}

	out := TaxResult{
		Lines:      make([]PricedLine, len(lines)),
		OnShipping: store.TaxOnShipping,
	}
	for i, line := range lines {
		var tax Money
		for _, rule := range rules {
			if rule.appliesToClass(line.Item.TaxClass) {
				tax += RoundShare(line.Subtotal, rule.Rate)
			}
		}
		line.Tax = tax
		out.Lines[i] = line
		out.Total += tax
	}
	for _, rule := range rules {
		if rule.appliesToClass(ShippingTaxClass) {
			out.ShippingRates = append(out.ShippingRates, rule.Rate)
		}
	}
	return out, nil
}

// TaxConfigurationMissingError builds the error returned when tax is mandatory but unconfigured.
func TaxConfigurationMissingError(storeID, country, zone string) error {
	return common.TaxConfigurationMissing(fmt.Sprintf("no tax rule for store %s in %s/%s", storeID, country, zone)).
		WithDetails(map[string]any{"storeId": storeID, "country": country, "zone": zone})
}
