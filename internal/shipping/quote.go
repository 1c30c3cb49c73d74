package shipping

import (
	"context"
	"time"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// DefaultQuoteTTL bounds how long a quote may be used for checkout.
const DefaultQuoteTTL = 30 * time.Minute

// Quote is a priced, time-limited offer from one carrier for one packed shipment.
// Quotes are inserted once and never updated.
type Quote struct {
	ID           string        `json:"id"`
	CartRef      string        `json:"cartRef"`
	StoreID      string        `json:"storeId"`
	Carrier      string        `json:"carrier"`
	Amount       pricing.Money `json:"amount"`
	Currency     string        `json:"currency"`
	PackageCount int           `json:"packageCount"`
	WeightGrams  int64         `json:"weightGrams"`
	CreatedAt    time.Time     `json:"createdAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

// Expired reports whether the quote can no longer be used at now.
func (q Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// QuoteStore persists quotes. GetQuote returns an error wrapping common.ErrNotFound for unknown ids.
type QuoteStore interface {
	InsertQuotes(ctx context.Context, quotes []Quote) error
	GetQuote(ctx context.Context, id string) (Quote, error)
	DeleteExpiredQuotes(ctx context.Context, before time.Time) (int64, error)
}
