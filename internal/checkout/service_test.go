package checkout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/merchant"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/shipping"
	"github.com/noah-isme/toko-checkout/internal/voucher"
)

type storeTable map[string]merchant.Store

func (s storeTable) Store(_ context.Context, id string) (merchant.Store, error) {
	st, ok := s[id]
	if !ok {
		return merchant.Store{}, fmt.Errorf("store %s: %w", id, common.ErrNotFound)
	}
	return st, nil
}

type priceTable map[string][]pricing.PriceRecord

func (p priceTable) Prices(_ context.Context, _, sku string) ([]pricing.PriceRecord, error) {
	return p[sku], nil
}

type ruleTable []pricing.TaxRule

func (r ruleTable) TaxRules(_ context.Context, _, country, _ string) ([]pricing.TaxRule, error) {
	var out []pricing.TaxRule
	for _, rule := range r {
		if rule.CountryCode == country {
			out = append(out, rule)
		}
	}
	return out, nil
}

type zoneTable map[string][]merchant.Zone

func (z zoneTable) ZonesByCountry(_ context.Context, country string) ([]merchant.Zone, error) {
	zones, ok := z[country]
	if !ok {
		return nil, fmt.Errorf("country %s: %w", country, common.ErrNotFound)
	}
	return zones, nil
}

type voucherTable map[string]voucher.Rule

func (v voucherTable) VoucherByCode(_ context.Context, _, code string) (voucher.Rule, error) {
	rule, ok := v[code]
	if !ok {
		return voucher.Rule{}, fmt.Errorf("voucher %s: %w", code, common.ErrNotFound)
	}
	return rule, nil
}

func (v voucherTable) CountUsageByCustomer(context.Context, string, string) (int64, error) {
	return 0, nil
}

type memQuotes struct {
	mu     sync.Mutex
	quotes map[string]shipping.Quote
}

func (m *memQuotes) InsertQuotes(_ context.Context, quotes []shipping.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotes {
		m.quotes[q.ID] = q
	}
	return nil
}

func (m *memQuotes) GetQuote(_ context.Context, id string) (shipping.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return shipping.Quote{}, fmt.Errorf("quote %s: %w", id, common.ErrNotFound)
	}
	return q, nil
}

func (m *memQuotes) DeleteExpiredQuotes(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	svc *checkout.Service
	now time.Time
}

var usd = pricing.Currency{Code: "USD", MinorUnits: 2}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	stores := storeTable{
		"s1": {
			ID:              "s1",
			Currency:        usd,
			DefaultLanguage: "en",
			CountryCode:     "US",
			TaxOnShipping:   true,
			Origin:          pricing.Address{CountryCode: "US", ZoneCode: "CA"},
			PackageTypes: []shipping.PackageType{
				{Code: "BOX", MaxWeightGrams: 10000, Dimensions: pricing.Dimensions{Length: 400, Width: 300, Height: 300}},
			},
			Carriers: []string{"flat", "pricey"},
		},
		"s2": {ID: "s2", Currency: usd, CountryCode: "US", Carriers: []string{"flat"},
			PackageTypes: []shipping.PackageType{{Code: "BOX", MaxWeightGrams: 10000, Dimensions: pricing.Dimensions{Length: 400, Width: 300, Height: 300}}}},
	}
	engine := &shipping.Engine{
		Quotes: &memQuotes{quotes: make(map[string]shipping.Quote)},
		Now:    func() time.Time { return f.now },
	}
	engine.Register(shipping.FlatRate{Code: "flat", Base: 2000})
	engine.Register(shipping.FlatRate{Code: "pricey", Base: 3500})

	f.svc = &checkout.Service{
		Stores: stores,
		Zones:  merchant.Zones{Source: zoneTable{"US": {{CountryCode: "US", Code: "CA", Name: "California"}}}},
		Prices: &pricing.Calculator{
			Prices: priceTable{
				"SKU-1": {{SKU: "SKU-1", Kind: pricing.PriceDefault, Amount: decimal.RequireFromString("50.00")}},
				"EBOOK": {{SKU: "EBOOK", Kind: pricing.PriceDefault, Amount: decimal.RequireFromString("9.99")}},
			},
			Now: func() time.Time { return f.now },
		},
		Tax: &pricing.TaxResolver{Rules: ruleTable{{ID: "vat", CountryCode: "US", Rate: decimal.RequireFromString("0.10")}}},
		Vouchers: &voucher.Service{
			Source: voucherTable{"SAVE10": {ID: "v1", Code: "SAVE10", Title: "Save 10", Kind: voucher.KindFixed, Value: 1000}},
			Now:    func() time.Time { return f.now },
		},
		Quotes: engine,
	}
	return f
}

func cart(ref string) checkout.Cart {
	return checkout.Cart{
		Ref: ref,
		Items: []pricing.CartItem{{
			ID: "i1", SKU: "SKU-1", Quantity: 1, WeightGrams: 1000,
			Dimensions: pricing.Dimensions{Length: 200, Width: 100, Height: 100},
		}},
		ShippingAddress: &pricing.Address{CountryCode: "us", ZoneCode: "ca"},
	}
}

func values(summary pricing.OrderTotalSummary) map[pricing.TotalCode]pricing.Money {
	out := make(map[pricing.TotalCode]pricing.Money)
	for _, t := range summary.Totals {
		out[t.Code] += t.Value
	}
	return out
}

func independentSum(summary pricing.OrderTotalSummary) pricing.Money {
	var sum pricing.Money
	for _, t := range summary.Totals {
		sum += t.Value
	}
	return sum
}

func TestCalculateWithChosenQuoteTaxesShipping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quotes, err := f.svc.RequestShippingQuote(ctx, cart("cart-1"), "s1")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, "flat", quotes[0].Carrier)
	require.Equal(t, pricing.Money(2000), quotes[0].Amount)

	out, err := f.svc.Calculate(ctx, checkout.CalculateInput{Cart: cart("cart-1"), StoreID: "s1", QuoteID: quotes[0].ID})
	require.NoError(t, err)
	require.NotNil(t, out.Shipping)
	require.True(t, out.Shipping.TaxOnShipping)

	got := values(out.Summary)
	require.Equal(t, pricing.Money(5000), got[pricing.TotalSubtotal])
	require.Equal(t, pricing.Money(500), got[pricing.TotalTax])
	require.Equal(t, pricing.Money(2000), got[pricing.TotalShipping])
	require.Equal(t, pricing.Money(200), got[pricing.TotalShippingTax])
	require.Equal(t, pricing.Money(7700), out.GrandTotal)
	require.Equal(t, independentSum(out.Summary), out.GrandTotal)

	codes := make([]pricing.TotalCode, 0, len(out.Summary.Totals))
	for _, total := range out.Summary.Totals {
		codes = append(codes, total.Code)
	}
	require.Equal(t, []pricing.TotalCode{pricing.TotalSubtotal, pricing.TotalTax, pricing.TotalShipping, pricing.TotalShippingTax}, codes)
}

func TestCalculateAppliesVouchersWithoutShipping(t *testing.T) {
	f := newFixture(t)
	c := cart("cart-1")
	c.Vouchers = []string{"save10", "BOGUS"}

	out, err := f.svc.Calculate(context.Background(), checkout.CalculateInput{Cart: c, StoreID: "s1", Language: "id-ID"})
	require.NoError(t, err)
	require.Nil(t, out.Shipping)

	got := values(out.Summary)
	require.Equal(t, pricing.Money(-1000), got[pricing.TotalDiscount])
	require.Equal(t, pricing.Money(500), got[pricing.TotalTax])
	require.NotContains(t, got, pricing.TotalShipping)
	require.Equal(t, pricing.Money(4500), out.GrandTotal)
	require.Equal(t, independentSum(out.Summary), out.GrandTotal)
	require.Len(t, out.Summary.Warnings, 1)
	require.Contains(t, out.Summary.Warnings[0], "BOGUS")
	require.Equal(t, "Pajak", out.Summary.Totals[2].Title)
}

func TestCalculateAutoQuotePicksCheapest(t *testing.T) {
	f := newFixture(t)
	f.svc.AutoQuote = true

	out, err := f.svc.Calculate(context.Background(), checkout.CalculateInput{Cart: cart("cart-1"), StoreID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, out.Shipping)
	require.Equal(t, "flat", out.Shipping.Quote.Carrier)
	require.Equal(t, pricing.Money(7700), out.GrandTotal)

	virtual := checkout.Cart{Ref: "cart-2", Items: []pricing.CartItem{{ID: "e1", SKU: "EBOOK", Quantity: 1, Virtual: true}}}
	out, err = f.svc.Calculate(context.Background(), checkout.CalculateInput{Cart: virtual, StoreID: "s1"})
	require.NoError(t, err)
	require.Nil(t, out.Shipping)
	require.Equal(t, pricing.Money(999+100), out.GrandTotal)
}

func TestCalculateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	in := checkout.CalculateInput{Cart: cart("cart-1"), StoreID: "s1"}
	first, err := f.svc.Calculate(context.Background(), in)
	require.NoError(t, err)
	second, err := f.svc.Calculate(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestShippingSummaryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quotes, err := f.svc.RequestShippingQuote(ctx, cart("cart-1"), "s1")
	require.NoError(t, err)
	id := quotes[0].ID

	f.now = f.now.Add(29 * time.Minute)
	sum, err := f.svc.GetShippingSummary(ctx, id, "s1")
	require.NoError(t, err)
	require.Equal(t, id, sum.Quote.ID)

	_, err = f.svc.GetShippingSummary(ctx, id, "s2")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.Calculate(ctx, checkout.CalculateInput{Cart: cart("other-cart"), StoreID: "s1", QuoteID: id})
	require.ErrorIs(t, err, common.ErrValidation)

	f.now = f.now.Add(2 * time.Minute)
	_, err = f.svc.GetShippingSummary(ctx, id, "s1")
	require.ErrorIs(t, err, common.ErrExpired)
	_, err = f.svc.Calculate(ctx, checkout.CalculateInput{Cart: cart("cart-1"), StoreID: "s1", QuoteID: id})
	require.ErrorIs(t, err, common.ErrExpired)

	_, err = f.svc.GetShippingSummary(ctx, "missing", "s1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRequestShippingQuoteRejectsBadCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noAddress := cart("cart-1")
	noAddress.ShippingAddress = nil
	_, err := f.svc.RequestShippingQuote(ctx, noAddress, "s1")
	require.ErrorIs(t, err, common.ErrValidation)

	unknownCountry := cart("cart-1")
	unknownCountry.ShippingAddress = &pricing.Address{CountryCode: "XX"}
	_, err = f.svc.RequestShippingQuote(ctx, unknownCountry, "s1")
	require.ErrorIs(t, err, common.ErrValidation)

	wrongZone := cart("cart-1")
	wrongZone.ShippingAddress = &pricing.Address{CountryCode: "US", ZoneCode: "ZZ"}
	_, err = f.svc.RequestShippingQuote(ctx, wrongZone, "s1")
	require.ErrorIs(t, err, common.ErrValidation)

	oversized := cart("cart-1")
	oversized.Items[0].WeightGrams = 12000
	_, err = f.svc.RequestShippingQuote(ctx, oversized, "s1")
	require.ErrorIs(t, err, common.ErrNoApplicablePackage)

	_, err = f.svc.RequestShippingQuote(ctx, cart("cart-1"), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCalculateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Calculate(ctx, checkout.CalculateInput{Cart: checkout.Cart{Ref: "empty"}, StoreID: "s1"})
	require.ErrorIs(t, err, common.ErrValidation)

	bad := cart("cart-1")
	bad.Items[0].Quantity = 0
	_, err = f.svc.Calculate(ctx, checkout.CalculateInput{Cart: bad, StoreID: "s1"})
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	unpriced := cart("cart-1")
	unpriced.Items[0].SKU = "UNKNOWN"
	_, err = f.svc.Calculate(ctx, checkout.CalculateInput{Cart: unpriced, StoreID: "s1"})
	require.ErrorIs(t, err, pricing.ErrPriceUnavailable)

	_, err = f.svc.Calculate(ctx, checkout.CalculateInput{Cart: cart("cart-1"), StoreID: ""})
	require.ErrorIs(t, err, common.ErrValidation)
}

type eventLog struct {
	mu     sync.Mutex
	topics []string
}

func (e *eventLog) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic+":"+aggregateID)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

func TestRequestShippingQuoteEmitsEvent(t *testing.T) {
	f := newFixture(t)
	log := &eventLog{}
	f.svc.Events = log

	_, err := f.svc.RequestShippingQuote(context.Background(), cart("cart-9"), "s1")
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicShippingQuoted + ":cart-9"}, log.topics)
}
