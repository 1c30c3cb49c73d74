package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/shipping"
)

func TestParseWeightTiers(t *testing.T) {
	tiers, err := ParseWeightTiers(" 500:900, 2000:1500 ,")
	require.NoError(t, err)
	require.Equal(t, []shipping.WeightTier{
		{MaxWeightGrams: 500, Amount: 900},
		{MaxWeightGrams: 2000, Amount: 1500},
	}, tiers)

	for _, bad := range []string{"", "500", "x:1", "0:100", "500:-1"} {
		_, err := ParseWeightTiers(bad)
		require.Error(t, err, bad)
	}
}

func TestNewShippingEngineRegistersConfiguredCarriers(t *testing.T) {
	cfg := &config.Config{QuoteTTL: 30 * time.Minute, FlatRateBase: 1500, RatesAPICarrier: "rates-api"}
	engine, err := NewShippingEngine(cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, engine.Carriers, 1)
	require.Contains(t, engine.Carriers, "flat")

	cfg.TableRateTiers = "1000:700"
	cfg.RatesAPIURL = "http://rates.invalid"
	engine, err = NewShippingEngine(cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, engine.Carriers, 3)
	require.Contains(t, engine.Carriers, "table")
	require.Contains(t, engine.Carriers, "rates-api")

	cfg.TableRateTiers = "broken"
	_, err = NewShippingEngine(cfg, nil, nil)
	require.Error(t, err)
}

func TestCarrierClientRetriesRemoteRates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":2450,"currency":"USD"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		QuoteTTL:        time.Minute,
		CarrierTimeout:  time.Second,
		RatesAPIURL:     srv.URL,
		RatesAPICarrier: "rates-api",
		Circuit:         config.CircuitConfig{MinRequests: 10, FailureRatio: 0.5, OpenFor: time.Second},
		Retry:           config.RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond},
	}
	engine, err := NewShippingEngine(cfg, nil, CarrierClient(cfg, zerolog.Nop()))
	require.NoError(t, err)

	quotes, err := engine.Quote(context.Background(), shipping.QuoteRequest{
		CartRef:     "cart-1",
		StoreID:     "s1",
		Destination: pricing.Address{CountryCode: "US"},
		Currency:    pricing.Currency{Code: "USD"},
		CarrierIDs:  []string{"rates-api"},
		Shipment: shipping.PackedShipment{Packages: []shipping.Package{{
			Type:  shipping.PackageType{Code: "BOX"},
			Units: []shipping.Unit{{WeightGrams: 1200}},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.Equal(t, "rates-api", quotes[0].Carrier)
	require.Equal(t, pricing.Money(2450), quotes[0].Amount)
	require.Equal(t, int32(2), calls.Load())
}
