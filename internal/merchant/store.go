package merchant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/cache"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/shipping"
)

// Store is the read-only store configuration consumed by checkout.
type Store struct {
	ID              string                    `json:"id"`
	Code            string                    `json:"code"`
	Name            string                    `json:"name"`
	Currency        pricing.Currency          `json:"currency"`
	DefaultLanguage string                    `json:"defaultLanguage"`
	CountryCode     string                    `json:"countryCode"`
	ZoneCode        string                    `json:"zoneCode,omitempty"`
	TaxOnShipping   bool                      `json:"taxOnShipping"`
	TaxMandatory    bool                      `json:"taxMandatory"`
	Origin          pricing.Address           `json:"origin"`
	PackageTypes    []shipping.PackageType    `json:"packageTypes"`
	Carriers        []string                  `json:"carriers"`
	QuoteTTL        time.Duration             `json:"quoteTtl,omitempty"`
	TotalOrder      map[pricing.TotalCode]int `json:"totalOrder,omitempty"`
}

// PricingContext projects the fields read by the pricing pipeline.
func (s Store) PricingContext() pricing.Store {
	return pricing.Store{
		ID:            s.ID,
		Currency:      s.Currency,
		CountryCode:   s.CountryCode,
		ZoneCode:      s.ZoneCode,
		TaxOnShipping: s.TaxOnShipping,
		TaxMandatory:  s.TaxMandatory,
		TotalOrder:    s.TotalOrder,
	}
}

// Directory resolves store configuration. Unknown stores yield an error wrapping common.ErrNotFound.
type Directory interface {
	Store(ctx context.Context, storeID string) (Store, error)
}

// CachedDirectory fronts a Directory with a Redis JSON cache invalidated by TTL.
type CachedDirectory struct {
	Next  Directory
	Cache *cache.JSON
}

// Store implements Directory.
func (d CachedDirectory) Store(ctx context.Context, storeID string) (Store, error) {
	key := cache.KeyStore(storeID)
	var cached Store
	if ok, err := d.Cache.Get(ctx, key, &cached); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("store_id", storeID).Msg("store_cache_read_failed")
	} else if ok {
		return cached, nil
	}
	st, err := d.Next.Store(ctx, storeID)
	if err != nil {
		return Store{}, err
	}
	if err := d.Cache.Set(ctx, key, st); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("store_id", storeID).Msg("store_cache_write_failed")
	}
	return st, nil
}

// Zone is a country subdivision used for tax and shipping destinations.
type Zone struct {
	CountryCode string `json:"countryCode"`
	Code        string `json:"code"`
	Name        string `json:"name"`
}

// ZoneSource lists reference data. Unknown countries yield an error wrapping common.ErrNotFound.
type ZoneSource interface {
	ZonesByCountry(ctx context.Context, countryCode string) ([]Zone, error)
}

// Zones validates destination country and zone codes.
type Zones struct {
	Source ZoneSource
	Cache  *cache.JSON
}

// Resolve checks that the address country exists and, when a zone is set, that it
// belongs to the country. The returned address carries normalised codes.
func (z Zones) Resolve(ctx context.Context, addr pricing.Address) (pricing.Address, error) {
	country := strings.ToUpper(strings.TrimSpace(addr.CountryCode))
	zone := strings.ToUpper(strings.TrimSpace(addr.ZoneCode))
	if country == "" {
		return pricing.Address{}, common.Validation(nil, "destination country is required")
	}
	zones, err := z.zones(ctx, country)
	if err != nil {
		return pricing.Address{}, err
	}
	addr.CountryCode = country
	addr.ZoneCode = zone
	if zone == "" {
		return addr, nil
	}
	for _, candidate := range zones {
		if strings.EqualFold(candidate.Code, zone) {
			return addr, nil
		}
	}
	return pricing.Address{}, common.Validation(nil, fmt.Sprintf("zone %s is not part of %s", zone, country)).
		WithDetails(map[string]any{"countryCode": country, "zoneCode": zone})
}

func (z Zones) zones(ctx context.Context, country string) ([]Zone, error) {
	key := cache.KeyZones(country)
	var cached []Zone
	if ok, err := z.Cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	zones, err := z.Source.ZonesByCountry(ctx, country)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.Validation(nil, fmt.Sprintf("unknown country %s", country)).
				WithDetails(map[string]any{"countryCode": country})
		}
		return nil, err
	}
	_ = z.Cache.Set(ctx, key, zones)
	return zones, nil
}
