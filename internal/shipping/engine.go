package shipping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// DefaultCarrierTimeout bounds a single carrier rate call.
const DefaultCarrierTimeout = 5 * time.Second

// QuoteRequest groups the inputs of a quote run.
type QuoteRequest struct {
	CartRef     string
	StoreID     string
	Shipment    PackedShipment
	Origin      pricing.Address
	Destination pricing.Address
	Currency    pricing.Currency
	// CarrierIDs lists the carriers enabled for the store, in preference order.
	CarrierIDs []string
	// TTL overrides the engine's quote lifetime when positive.
	TTL time.Duration
}

// Engine dispatches packed shipments to carrier modules and persists the resulting quotes.
type Engine struct {
	Carriers    map[string]Carrier
	Quotes      QuoteStore
	Timeout     time.Duration
	TTL         time.Duration
	Concurrency int
	Now         func() time.Time
	NewID       func() string
}

// Register adds a carrier to the engine's registry.
func (e *Engine) Register(c Carrier) {
	if e.Carriers == nil {
		e.Carriers = make(map[string]Carrier)
	}
	e.Carriers[c.ID()] = c
}

type carrierResult struct {
	carrier string
	amount  pricing.Money
	err     error
}

// Quote rates the shipment with every enabled carrier concurrently. Carriers that
// fail or time out are logged and left out; when none succeeds the call fails with
// common.ErrCarrierUnavailable. Cancelling ctx returns immediately with ctx.Err().
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) ([]Quote, error) {
	if len(req.Shipment.Packages) == 0 {
		return nil, common.Validation(nil, "shipment has no packages")
	}
	carriers := e.enabled(req.CarrierIDs)
	if len(carriers) == 0 {
		return nil, common.CarrierUnavailable("no carrier configured for store", nil).
			WithDetails(map[string]any{"storeId": req.StoreID})
	}

	rateReq := RateRequest{
		StoreID:     req.StoreID,
		Origin:      req.Origin,
		Destination: req.Destination,
		Shipment:    req.Shipment,
		Currency:    req.Currency,
	}
	// Buffered so abandoned goroutines never block after the caller returns.
	results := make(chan carrierResult, len(carriers))
	sem := make(chan struct{}, e.concurrency(len(carriers)))
	for _, c := range carriers {
		go e.rate(ctx, c, rateReq, sem, results)
	}

	logger := zerolog.Ctx(ctx)
	var (
		ok    []carrierResult
		fails []error
	)
	for range carriers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-results:
			if res.err != nil {
				logger.Warn().Err(res.err).Str("carrier", res.carrier).Str("store_id", req.StoreID).Msg("carrier_quote_failed")
				fails = append(fails, fmt.Errorf("%s: %w", res.carrier, res.err))
				continue
			}
			ok = append(ok, res)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ok) == 0 {
		return nil, common.CarrierUnavailable("all carriers failed to quote", errors.Join(fails...)).
			WithDetails(map[string]any{"storeId": req.StoreID, "cartRef": req.CartRef, "carriers": len(carriers)})
	}

	sort.Slice(ok, func(i, j int) bool {
		if ok[i].amount != ok[j].amount {
			return ok[i].amount < ok[j].amount
		}
		return ok[i].carrier < ok[j].carrier
	})
	now := e.now()
	ttl := e.ttl(req.TTL)
	fees := req.Shipment.HandlingFees()
	quotes := make([]Quote, 0, len(ok))
	for _, res := range ok {
		quotes = append(quotes, Quote{
			ID:           e.newID(),
			CartRef:      req.CartRef,
			StoreID:      req.StoreID,
			Carrier:      res.carrier,
			Amount:       res.amount + fees,
			Currency:     req.Currency.Code,
			PackageCount: len(req.Shipment.Packages),
			WeightGrams:  req.Shipment.WeightGrams(),
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
		})
	}
	if e.Quotes != nil {
		if err := e.Quotes.InsertQuotes(ctx, quotes); err != nil {
			return nil, fmt.Errorf("persist quotes: %w", err)
		}
	}
	logger.Debug().Str("store_id", req.StoreID).Int("quotes", len(quotes)).Int("failed", len(fails)).Msg("shipping_quoted")
	return quotes, nil
}

func (e *Engine) rate(ctx context.Context, c Carrier, req RateRequest, sem chan struct{}, out chan<- carrierResult) {
	id := c.ID()
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		out <- carrierResult{carrier: id, err: ctx.Err()}
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	started := time.Now()
	amount, err := callCarrier(callCtx, c, req)
	if err == nil && amount < 0 {
		err = fmt.Errorf("negative rate %d", amount)
	}
	result := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	if obs.CarrierQuoteTotal != nil {
		obs.CarrierQuoteTotal.WithLabelValues(id, result).Inc()
	}
	if obs.CarrierQuoteLatency != nil {
		obs.CarrierQuoteLatency.WithLabelValues(id).Observe(obs.DurationMillis(time.Since(started)))
	}
	out <- carrierResult{carrier: id, amount: amount, err: err}
}

// callCarrier returns once the carrier answers or ctx is done, whichever comes
// first. A late answer from a carrier that ignores ctx is discarded.
func callCarrier(ctx context.Context, c Carrier, req RateRequest) (pricing.Money, error) {
	type reply struct {
		amount pricing.Money
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		amount, err := c.Rate(ctx, req)
		done <- reply{amount, err}
	}()
	select {
	case r := <-done:
		return r.amount, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Get returns a stored quote for the store. Quotes of another store are reported
// as not found; quotes past their expiry are rejected with common.ErrExpired.
func (e *Engine) Get(ctx context.Context, id, storeID string) (Quote, error) {
	if e.Quotes == nil {
		return Quote{}, errors.New("shipping: quote store not configured")
	}
	q, err := e.Quotes.GetQuote(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Quote{}, common.NotFound("shipping quote not found").WithDetails(map[string]any{"quoteId": id})
		}
		return Quote{}, err
	}
	if q.StoreID != storeID {
		return Quote{}, common.NotFound("shipping quote not found").WithDetails(map[string]any{"quoteId": id})
	}
	if q.Expired(e.now()) {
		return Quote{}, common.Expired("shipping quote expired").
			WithDetails(map[string]any{"quoteId": id, "expiresAt": q.ExpiresAt})
	}
	return q, nil
}

// PurgeExpired deletes quotes that expired more than grace ago.
func (e *Engine) PurgeExpired(ctx context.Context, grace time.Duration) (int64, error) {
	if e.Quotes == nil {
		return 0, nil
	}
	n, err := e.Quotes.DeleteExpiredQuotes(ctx, e.now().Add(-grace))
	if err != nil {
		return 0, err
	}
	if obs.QuotesPurgedTotal != nil && n > 0 {
		obs.QuotesPurgedTotal.Add(float64(n))
	}
	return n, nil
}

func (e *Engine) enabled(ids []string) []Carrier {
	out := make([]Carrier, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if c, ok := e.Carriers[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) concurrency(n int) int {
	if e.Concurrency > 0 && e.Concurrency < n {
		return e.Concurrency
	}
	return n
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultCarrierTimeout
}

func (e *Engine) ttl(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if e.TTL > 0 {
		return e.TTL
	}
	return DefaultQuoteTTL
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}
