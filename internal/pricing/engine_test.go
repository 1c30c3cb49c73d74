package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

func sumValues(s pricing.OrderTotalSummary) pricing.Money {
	var total pricing.Money
	for _, line := range s.Totals {
		total += line.Value
	}
	return total
}

func TestAggregateTaxOnShipping(t *testing.T) {
	summary := pricing.Aggregate(pricing.AggregateInput{
		Store:         pricing.Store{ID: "s1", Currency: usd},
		Language:      "en",
		Subtotal:      10000,
		Tax:           1000,
		Shipping:      &pricing.ShippingCharge{Carrier: "flat", Amount: 2000},
		TaxOnShipping: true,
		ShippingRates: []decimal.Decimal{dec("0.10")},
	})

	codes := make([]pricing.TotalCode, 0, len(summary.Totals))
	for _, line := range summary.Totals {
		codes = append(codes, line.Code)
	}
	require.Equal(t, []pricing.TotalCode{
		pricing.TotalSubtotal, pricing.TotalTax, pricing.TotalShipping, pricing.TotalShippingTax,
	}, codes)
	require.Equal(t, pricing.Money(200), summary.Totals[3].Value)
	require.Equal(t, "USD 2.00", summary.Totals[3].Text)
	require.Equal(t, pricing.Money(13200), summary.GrandTotal())
	require.Equal(t, sumValues(summary), summary.GrandTotal())
}

func TestAggregateWithoutTaxOnShipping(t *testing.T) {
	summary := pricing.Aggregate(pricing.AggregateInput{
		Store:         pricing.Store{ID: "s1", Currency: usd},
		Subtotal:      10000,
		Shipping:      &pricing.ShippingCharge{Amount: 2000},
		ShippingRates: []decimal.Decimal{dec("0.10")},
	})
	for _, line := range summary.Totals {
		require.NotEqual(t, pricing.TotalShippingTax, line.Code)
	}
	require.Equal(t, pricing.Money(12000), summary.GrandTotal())
}

func TestAggregateClampsDiscounts(t *testing.T) {
	summary := pricing.Aggregate(pricing.AggregateInput{
		Store:     pricing.Store{ID: "s1", Currency: usd},
		Language:  "id-ID",
		Subtotal:  1000,
		Discounts: []pricing.Discount{{Code: "A", Amount: 700}, {Code: "B", Amount: 700}, {Code: "C", Amount: 100}},
		Tax:       100,
	})
	require.Equal(t, pricing.Money(100), summary.GrandTotal())
	require.Equal(t, sumValues(summary), summary.GrandTotal())
	require.Equal(t, "Diskon", summary.Totals[1].Title)
	require.Equal(t, pricing.Money(-700), summary.Totals[1].Value)
	require.Equal(t, pricing.Money(-300), summary.Totals[2].Value)
	require.Len(t, summary.Totals, 4)
}

func TestAggregateStoreOrdering(t *testing.T) {
	summary := pricing.Aggregate(pricing.AggregateInput{
		Store: pricing.Store{ID: "s1", Currency: usd, TotalOrder: map[pricing.TotalCode]int{
			pricing.TotalShipping: 150,
		}},
		Subtotal: 500,
		Tax:      50,
		Shipping: &pricing.ShippingCharge{Amount: 300},
	})
	require.Equal(t, pricing.TotalSubtotal, summary.Totals[0].Code)
	require.Equal(t, pricing.TotalShipping, summary.Totals[1].Code)
	require.Equal(t, pricing.TotalTax, summary.Totals[2].Code)
}

func TestAggregateSumInvariant(t *testing.T) {
	for subtotal := pricing.Money(0); subtotal < 5000; subtotal += 137 {
		for _, ship := range []pricing.Money{0, 1, 999, 2005} {
			summary := pricing.Aggregate(pricing.AggregateInput{
				Store:         pricing.Store{ID: "s1", Currency: usd},
				Subtotal:      subtotal,
				Discounts:     []pricing.Discount{{Code: "X", Amount: subtotal / 3}},
				Tax:           pricing.RoundShare(subtotal, dec("0.075")),
				Shipping:      &pricing.ShippingCharge{Amount: ship},
				TaxOnShipping: true,
				ShippingRates: []decimal.Decimal{dec("0.075"), dec("0.01")},
			})
			require.Equal(t, sumValues(summary), summary.GrandTotal())
		}
	}
}
