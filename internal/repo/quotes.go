package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/shipping"
)

// Quotes persists shipping quotes.
type Quotes struct {
	db DB
}

// NewQuotes constructs a Quotes repository.
func NewQuotes(db DB) *Quotes {
	return &Quotes{db: db}
}

var _ shipping.QuoteStore = (*Quotes)(nil)

const insertQuote = `INSERT INTO shipping_quotes
(id, cart_ref, store_id, carrier, amount, currency, package_count, weight_grams, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// InsertQuotes stores every quote of one quote run in a single round trip.
func (q *Quotes) InsertQuotes(ctx context.Context, quotes []shipping.Quote) error {
	if q == nil || q.db == nil {
		return ErrUnavailable
	}
	if len(quotes) == 0 {
		return nil
	}
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, quote := range quotes {
		id, err := uuid.Parse(quote.ID)
		if err != nil {
			return fmt.Errorf("quote id %q: %w", quote.ID, err)
		}
		batch.Queue(insertQuote, id, quote.CartRef, quote.StoreID, quote.Carrier, quote.Amount, quote.Currency,
			quote.PackageCount, quote.WeightGrams, quote.CreatedAt, quote.ExpiresAt)
	}
	results := tx.SendBatch(ctx, batch)
	for range quotes {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	if err := results.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetQuote loads a quote regardless of expiry.
func (q *Quotes) GetQuote(ctx context.Context, id string) (shipping.Quote, error) {
	if q == nil || q.db == nil {
		return shipping.Quote{}, ErrUnavailable
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return shipping.Quote{}, fmt.Errorf("quote %s: %w", id, common.ErrNotFound)
	}
	var (
		quote   shipping.Quote
		quoteID uuid.UUID
	)
	err = q.db.QueryRow(ctx, `SELECT id, cart_ref, store_id, carrier, amount, currency, package_count, weight_grams, created_at, expires_at
FROM shipping_quotes WHERE id = $1`, parsed).Scan(
		&quoteID, &quote.CartRef, &quote.StoreID, &quote.Carrier, &quote.Amount, &quote.Currency,
		&quote.PackageCount, &quote.WeightGrams, &quote.CreatedAt, &quote.ExpiresAt,
	)
	if err != nil {
		if isNoRows(err) {
			return shipping.Quote{}, fmt.Errorf("quote %s: %w", id, common.ErrNotFound)
		}
		return shipping.Quote{}, err
	}
	quote.ID = quoteID.String()
	return quote, nil
}

// DeleteExpiredQuotes removes quotes whose expiry is before the cutoff.
func (q *Quotes) DeleteExpiredQuotes(ctx context.Context, before time.Time) (int64, error) {
	if q == nil || q.db == nil {
		return 0, ErrUnavailable
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM shipping_quotes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
