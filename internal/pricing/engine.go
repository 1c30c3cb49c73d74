package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TotalCode identifies an order total line.
type TotalCode string

const (
	TotalSubtotal    TotalCode = "SUBTOTAL"
	TotalDiscount    TotalCode = "DISCOUNT"
	TotalTax         TotalCode = "TAX"
	TotalShipping    TotalCode = "SHIPPING"
	TotalShippingTax TotalCode = "SHIPPING_TAX"
)

var defaultTotalOrder = map[TotalCode]int{
	TotalSubtotal:    100,
	TotalDiscount:    200,
	TotalTax:         300,
	TotalShipping:    400,
	TotalShippingTax: 500,
}

// OrderTotal is a single rendered line of the order breakdown.
type OrderTotal struct {
	Code  TotalCode `json:"code"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Value Money     `json:"value"`
	Order int       `json:"order"`
}

// OrderTotalSummary is the ordered breakdown shown to the customer.
type OrderTotalSummary struct {
	Currency Currency     `json:"currency"`
	Totals   []OrderTotal `json:"totals"`
	Warnings []string     `json:"warnings,omitempty"`
}

// GrandTotal sums every line. It is recomputed on each call.
func (s OrderTotalSummary) GrandTotal() Money {
	var total Money
	for _, t := range s.Totals {
		total += t.Value
	}
	return total
}

// Discount is a reduction applied to the order, expressed as a positive amount.
type Discount struct {
	Code   string
	Title  string
	Amount Money
}

// ShippingCharge is the selected shipping cost.
type ShippingCharge struct {
	Carrier string
	Title   string
	Amount  Money
}

// AggregateInput gathers everything the aggregator merges.
type AggregateInput struct {
	Store         Store
	Language      string
	Subtotal      Money
	Discounts     []Discount
	Tax           Money
	Shipping      *ShippingCharge
	TaxOnShipping bool
	ShippingRates []decimal.Decimal
}

// Aggregate merges the pricing components into an ordered summary.
func Aggregate(in AggregateInput) OrderTotalSummary {
	titles := titlesFor(in.Language)
	cur := in.Store.Currency
	order := func(code TotalCode) int {
		if v, ok := in.Store.TotalOrder[code]; ok {
			return v
		}
		return defaultTotalOrder[code]
	}
	line := func(code TotalCode, title string, value Money) OrderTotal {
		return OrderTotal{Code: code, Title: title, Text: cur.Format(value), Value: value, Order: order(code)}
	}

	totals := []OrderTotal{line(TotalSubtotal, titles[TotalSubtotal], in.Subtotal)}

	// Discounts never push the order below zero before tax and shipping.
	remaining := in.Subtotal
	for _, d := range in.Discounts {
		amount := d.Amount
		if amount > remaining {
			amount = remaining
		}
		if amount <= 0 {
			continue
		}
		remaining -= amount
		title := d.Title
		if title == "" {
			title = titles[TotalDiscount]
		}
		totals = append(totals, line(TotalDiscount, title, -amount))
	}

	if in.Tax != 0 {
		totals = append(totals, line(TotalTax, titles[TotalTax], in.Tax))
	}

	if in.Shipping != nil {
		title := in.Shipping.Title
		if title == "" {
			title = titles[TotalShipping]
		}
		totals = append(totals, line(TotalShipping, title, in.Shipping.Amount))
		if in.TaxOnShipping {
			var shippingTax Money
			for _, rate := range in.ShippingRates {
				shippingTax += RoundShare(in.Shipping.Amount, rate)
			}
			if shippingTax != 0 {
				totals = append(totals, line(TotalShippingTax, titles[TotalShippingTax], shippingTax))
			}
		}
	}

	sort.SliceStable(totals, func(i, j int) bool { return totals[i].Order < totals[j].Order })
	return OrderTotalSummary{Currency: cur, Totals: totals}
}
