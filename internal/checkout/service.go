package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/merchant"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/shipping"
	"github.com/noah-isme/toko-checkout/internal/voucher"
)

// Cart is the snapshot of a shopping cart submitted for pricing.
type Cart struct {
	Ref             string             `json:"ref" validate:"required,max=128"`
	Items           []pricing.CartItem `json:"items" validate:"required,min=1,dive"`
	Vouchers        []string           `json:"vouchers,omitempty" validate:"omitempty,max=10,dive,max=64"`
	ShippingAddress *pricing.Address   `json:"shippingAddress,omitempty"`
}

// NeedsShipping reports whether any item is physical.
func (c Cart) NeedsShipping() bool {
	for _, it := range c.Items {
		if !it.Virtual {
			return true
		}
	}
	return false
}

// CalculateInput groups the inputs of a pricing run.
type CalculateInput struct {
	Cart     Cart
	Customer *pricing.Customer
	StoreID  string
	Language string
	// QuoteID selects a previously requested shipping quote.
	QuoteID string
}

// ShippingSummary is a chosen quote together with the store's shipping tax policy.
type ShippingSummary struct {
	Quote         shipping.Quote `json:"quote"`
	TaxOnShipping bool           `json:"taxOnShipping"`
}

// Calculation is the result of Calculate.
type Calculation struct {
	Summary    pricing.OrderTotalSummary `json:"summary"`
	GrandTotal pricing.Money             `json:"grandTotal"`
	Lines      []pricing.PricedLine      `json:"lines"`
	Shipping   *ShippingSummary          `json:"shipping,omitempty"`
}

// ZoneResolver validates and normalises destination addresses.
type ZoneResolver interface {
	Resolve(ctx context.Context, addr pricing.Address) (pricing.Address, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service orchestrates pricing, tax, vouchers and shipping into an order summary.
type Service struct {
	Stores   merchant.Directory
	Zones    ZoneResolver
	Prices   *pricing.Calculator
	Tax      *pricing.TaxResolver
	Vouchers *voucher.Service
	Quotes   *shipping.Engine
	Events   Emitter
	// AutoQuote requests quotes and picks the cheapest when no quote is chosen.
	AutoQuote bool
}

// Calculate prices the cart and returns the ordered total breakdown. It performs
// no writes except for quotes persisted by AutoQuote.
func (s *Service) Calculate(ctx context.Context, in CalculateInput) (Calculation, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Calculate")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.id", in.StoreID),
		attribute.String("cart.ref", in.Cart.Ref),
		attribute.Int("cart.items", len(in.Cart.Items)),
	)

	if err := s.configured(); err != nil {
		return Calculation{}, err
	}
	if len(in.Cart.Items) == 0 {
		return Calculation{}, common.Validation(nil, "cart is empty").WithDetails(map[string]any{"cartRef": in.Cart.Ref})
	}
	store, err := s.store(ctx, in.StoreID)
	if err != nil {
		return Calculation{}, err
	}
	pc := store.PricingContext()

	lines, err := s.Prices.Price(ctx, in.Cart.Items, pc, in.Customer)
	if err != nil {
		return Calculation{}, err
	}
	taxed, err := s.Tax.ApplyTax(ctx, lines, pc, in.Customer)
	if err != nil {
		return Calculation{}, err
	}

	var discounts voucher.Outcome
	if len(in.Cart.Vouchers) > 0 && s.Vouchers != nil {
		discounts, err = s.Vouchers.Evaluate(ctx, store.ID, in.Cart.Vouchers, in.Customer, taxed.Lines)
		if err != nil {
			return Calculation{}, err
		}
	}

	ship, err := s.chooseShipping(ctx, in, store)
	if err != nil {
		return Calculation{}, err
	}
	var charge *pricing.ShippingCharge
	if ship != nil {
		charge = &pricing.ShippingCharge{Carrier: ship.Quote.Carrier, Amount: ship.Quote.Amount}
	}

	language := in.Language
	if strings.TrimSpace(language) == "" {
		language = store.DefaultLanguage
	}
	summary := pricing.Aggregate(pricing.AggregateInput{
		Store:         pc,
		Language:      language,
		Subtotal:      pricing.Subtotal(taxed.Lines),
		Discounts:     discounts.Discounts,
		Tax:           taxed.Total,
		Shipping:      charge,
		TaxOnShipping: taxed.OnShipping,
		ShippingRates: taxed.ShippingRates,
	})
	summary.Warnings = discounts.Warnings
	for _, l := range taxed.Lines {
		if l.PriceChanged {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("price of %s changed", l.Item.SKU))
		}
	}

	grand := summary.GrandTotal()
	span.SetAttributes(attribute.Int64("checkout.grand_total", grand))
	zerolog.Ctx(ctx).Debug().
		Str("store_id", store.ID).
		Str("cart_ref", in.Cart.Ref).
		Int64("grand_total", grand).
		Int("warnings", len(summary.Warnings)).
		Msg("checkout_calculated")
	return Calculation{Summary: summary, GrandTotal: grand, Lines: taxed.Lines, Shipping: ship}, nil
}

func (s *Service) chooseShipping(ctx context.Context, in CalculateInput, store merchant.Store) (*ShippingSummary, error) {
	if id := strings.TrimSpace(in.QuoteID); id != "" {
		sum, err := s.shippingSummary(ctx, id, store)
		if err != nil {
			return nil, err
		}
		if in.Cart.Ref != "" && sum.Quote.CartRef != in.Cart.Ref {
			return nil, common.Validation(nil, "shipping quote was issued for another cart").
				WithDetails(map[string]any{"quoteId": id, "cartRef": in.Cart.Ref})
		}
		return &sum, nil
	}
	if !s.AutoQuote || !in.Cart.NeedsShipping() || in.Cart.ShippingAddress == nil {
		return nil, nil
	}
	quotes, err := s.requestQuote(ctx, in.Cart, store)
	if err != nil {
		return nil, err
	}
	return &ShippingSummary{Quote: quotes[0], TaxOnShipping: store.TaxOnShipping}, nil
}

// RequestShippingQuote validates the destination, packs the cart and asks every
// enabled carrier for a rate. Quotes are returned cheapest first.
func (s *Service) RequestShippingQuote(ctx context.Context, cart Cart, storeID string) ([]shipping.Quote, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.RequestShippingQuote")
	defer span.End()
	span.SetAttributes(attribute.String("store.id", storeID), attribute.String("cart.ref", cart.Ref))

	if err := s.configured(); err != nil {
		return nil, err
	}
	store, err := s.store(ctx, storeID)
	if err != nil {
		return nil, err
	}
	quotes, err := s.requestQuote(ctx, cart, store)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("shipping.quotes", len(quotes)))
	return quotes, nil
}

func (s *Service) requestQuote(ctx context.Context, cart Cart, store merchant.Store) ([]shipping.Quote, error) {
	if cart.ShippingAddress == nil {
		return nil, common.Validation(nil, "shipping address is required").WithDetails(map[string]any{"cartRef": cart.Ref})
	}
	dest := *cart.ShippingAddress
	if s.Zones != nil {
		var err error
		if dest, err = s.Zones.Resolve(ctx, dest); err != nil {
			return nil, err
		}
	}
	units, err := shipping.ExpandUnits(cart.Items)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, common.Validation(nil, "cart has no items to ship").WithDetails(map[string]any{"cartRef": cart.Ref})
	}
	packed, err := shipping.Pack(units, store.PackageTypes)
	if err != nil {
		return nil, err
	}
	quotes, err := s.Quotes.Quote(ctx, shipping.QuoteRequest{
		CartRef:     cart.Ref,
		StoreID:     store.ID,
		Shipment:    packed,
		Origin:      store.Origin,
		Destination: dest,
		Currency:    store.Currency,
		CarrierIDs:  store.Carriers,
		TTL:         store.QuoteTTL,
	})
	if err != nil {
		return nil, err
	}
	if s.Events != nil {
		ids := make([]string, 0, len(quotes))
		for _, q := range quotes {
			ids = append(ids, q.ID)
		}
		payload := map[string]any{"storeId": store.ID, "quoteIds": ids, "packages": len(packed.Packages)}
		if _, err := s.Events.Emit(ctx, events.TopicShippingQuoted, cart.Ref, payload); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("cart_ref", cart.Ref).Msg("shipping_quoted_emit_failed")
		}
	}
	return quotes, nil
}

// GetShippingSummary returns a stored quote of the store. Missing and foreign
// quotes fail with common.ErrNotFound, lapsed ones with common.ErrExpired.
func (s *Service) GetShippingSummary(ctx context.Context, quoteID, storeID string) (ShippingSummary, error) {
	if err := s.configured(); err != nil {
		return ShippingSummary{}, err
	}
	store, err := s.store(ctx, storeID)
	if err != nil {
		return ShippingSummary{}, err
	}
	return s.shippingSummary(ctx, quoteID, store)
}

func (s *Service) shippingSummary(ctx context.Context, quoteID string, store merchant.Store) (ShippingSummary, error) {
	q, err := s.Quotes.Get(ctx, quoteID, store.ID)
	if err != nil {
		return ShippingSummary{}, err
	}
	return ShippingSummary{Quote: q, TaxOnShipping: store.TaxOnShipping}, nil
}

func (s *Service) store(ctx context.Context, storeID string) (merchant.Store, error) {
	if strings.TrimSpace(storeID) == "" {
		return merchant.Store{}, common.Validation(nil, "store is required")
	}
	st, err := s.Stores.Store(ctx, storeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) && !common.IsAppError(err) {
			return merchant.Store{}, common.NotFound("store not found").WithDetails(map[string]any{"storeId": storeID})
		}
		return merchant.Store{}, err
	}
	return st, nil
}

func (s *Service) configured() error {
	if s == nil || s.Stores == nil || s.Prices == nil || s.Tax == nil || s.Quotes == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}
