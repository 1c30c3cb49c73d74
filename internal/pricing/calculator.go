package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/common"
)

var (
	// ErrInvalidQuantity is returned when a cart line quantity is not in 1..MaxQuantity.
	ErrInvalidQuantity = fmt.Errorf("invalid quantity: %w", common.ErrValidation)
	// ErrPriceUnavailable is returned when no price record resolves for a SKU in the store context.
	ErrPriceUnavailable = fmt.Errorf("price unavailable: %w", common.ErrNotFound)
)

// PriceKind classifies a price record.
type PriceKind string

const (
	PriceDefault   PriceKind = "DEFAULT"
	PriceCustomer  PriceKind = "CUSTOMER"
	PricePromotion PriceKind = "PROMOTION"
)

// PriceRecord is one row of a store price table.
type PriceRecord struct {
	SKU        string
	Kind       PriceKind
	CustomerID string
	GroupID    string
	Amount     decimal.Decimal
	ValidFrom  *time.Time
	ValidTo    *time.Time
}

func (p PriceRecord) activeAt(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && !now.Before(*p.ValidTo) {
		return false
	}
	return true
}

func (p PriceRecord) appliesTo(customer *Customer) bool {
	switch p.Kind {
	case PricePromotion, PriceDefault:
		return true
	case PriceCustomer:
		if customer == nil {
			return false
		}
		if p.CustomerID != "" && p.CustomerID == customer.ID {
			return true
		}
		return p.GroupID != "" && p.GroupID == customer.GroupID
	default:
		return false
	}
}

// PriceSource looks up the price table of a store.
type PriceSource interface {
	Prices(ctx context.Context, storeID, sku string) ([]PriceRecord, error)
}

// Store is the slice of store configuration the pricing pipeline reads.
type Store struct {
	ID            string
	Currency      Currency
	CountryCode   string
	ZoneCode      string
	TaxOnShipping bool
	TaxMandatory  bool
	TotalOrder    map[TotalCode]int
}

// Calculator resolves a price for each cart line.
type Calculator struct {
	Prices PriceSource
	Now    func() time.Time
}

func (c *Calculator) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Price resolves unit prices and line subtotals. It performs no writes.
func (c *Calculator) Price(ctx context.Context, items []CartItem, store Store, customer *Customer) ([]PricedLine, error) {
	if c == nil || c.Prices == nil {
		return nil, errors.New("pricing: price source not configured")
	}
	now := c.now()
	lines := make([]PricedLine, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, common.Validation(ErrInvalidQuantity, fmt.Sprintf("item %s has quantity %d", item.ID, item.Quantity)).
				WithDetails(map[string]any{"itemId": item.ID, "quantity": item.Quantity})
		}
		records, err := c.Prices.Prices(ctx, store.ID, item.SKU)
		if err != nil {
			return nil, fmt.Errorf("load prices for %s: %w", item.SKU, err)
		}
		record, ok := resolvePrice(records, customer, now)
		if !ok {
			return nil, common.NewAppError("PRICE_UNAVAILABLE", fmt.Sprintf("no price for sku %s in store %s", item.SKU, store.ID), http.StatusUnprocessableEntity, ErrPriceUnavailable).
				WithDetails(map[string]any{"sku": item.SKU, "storeId": store.ID})
		}
		subtotal := store.Currency.ToMinor(record.Amount.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, PricedLine{
			Item:         item,
			UnitPrice:    record.Amount,
			PriceKind:    record.Kind,
			Subtotal:     subtotal,
			PriceChanged: !item.UnitPrice.IsZero() && !item.UnitPrice.Equal(record.Amount),
		})
	}
	return lines, nil
}

// resolvePrice picks the lowest active special price, falling back to the default price.
func resolvePrice(records []PriceRecord, customer *Customer, now time.Time) (PriceRecord, bool) {
	var (
		fallback   PriceRecord
		hasDefault bool
		special    PriceRecord
		hasSpecial bool
	)
	for _, r := range records {
		if r.Amount.IsNegative() || !r.appliesTo(customer) || !r.activeAt(now) {
			continue
		}
		if r.Kind == PriceDefault {
			if !hasDefault {
				fallback = r
				hasDefault = true
			}
			continue
		}
		if !hasSpecial || r.Amount.LessThan(special.Amount) || (r.Amount.Equal(special.Amount) && kindRank(r.Kind) < kindRank(special.Kind)) {
			special = r
			hasSpecial = true
		}
	}
	if hasSpecial {
		return special, true
	}
	return fallback, hasDefault
}

func kindRank(kind PriceKind) int {
	switch strings.ToUpper(string(kind)) {
	case string(PriceCustomer):
		return 0
	case string(PricePromotion):
		return 1
	default:
		return 2
	}
}
