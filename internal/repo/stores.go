package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/merchant"
	"github.com/noah-isme/toko-checkout/internal/shipping"
)

// Stores reads store configuration and geographic reference data.
type Stores struct {
	db DB
}

// NewStores constructs a Stores repository.
func NewStores(db DB) *Stores {
	return &Stores{db: db}
}

var (
	_ merchant.Directory  = (*Stores)(nil)
	_ merchant.ZoneSource = (*Stores)(nil)
)

const selectStore = `SELECT id, code, name, currency_code, currency_minor, default_language, country_code, zone_code,
tax_on_shipping, tax_mandatory, origin_country, origin_zone, origin_postal, origin_city, origin_line1,
quote_ttl_secs, total_order
FROM stores WHERE id = $1`

// Store loads a store with its package types and enabled carriers.
func (s *Stores) Store(ctx context.Context, storeID string) (merchant.Store, error) {
	if s == nil || s.db == nil {
		return merchant.Store{}, ErrUnavailable
	}
	var (
		st         merchant.Store
		ttlSecs    int32
		totalOrder []byte
	)
	err := s.db.QueryRow(ctx, selectStore, storeID).Scan(
		&st.ID, &st.Code, &st.Name, &st.Currency.Code, &st.Currency.MinorUnits, &st.DefaultLanguage,
		&st.CountryCode, &st.ZoneCode, &st.TaxOnShipping, &st.TaxMandatory,
		&st.Origin.CountryCode, &st.Origin.ZoneCode, &st.Origin.PostalCode, &st.Origin.City, &st.Origin.Line1,
		&ttlSecs, &totalOrder,
	)
	if err != nil {
		if isNoRows(err) {
			return merchant.Store{}, fmt.Errorf("store %s: %w", storeID, common.ErrNotFound)
		}
		return merchant.Store{}, err
	}
	st.QuoteTTL = time.Duration(ttlSecs) * time.Second
	if len(totalOrder) > 0 {
		if err := json.Unmarshal(totalOrder, &st.TotalOrder); err != nil {
			return merchant.Store{}, fmt.Errorf("decode total order for store %s: %w", storeID, err)
		}
	}
	if st.PackageTypes, err = s.packageTypes(ctx, storeID); err != nil {
		return merchant.Store{}, err
	}
	if st.Carriers, err = s.carriers(ctx, storeID); err != nil {
		return merchant.Store{}, err
	}
	return st, nil
}

func (s *Stores) packageTypes(ctx context.Context, storeID string) ([]shipping.PackageType, error) {
	rows, err := s.db.Query(ctx, `SELECT code, max_weight_grams, length_mm, width_mm, height_mm, handling_fee
FROM package_types WHERE store_id = $1 ORDER BY max_weight_grams, code`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []shipping.PackageType
	for rows.Next() {
		var pt shipping.PackageType
		if err := rows.Scan(&pt.Code, &pt.MaxWeightGrams, &pt.Dimensions.Length, &pt.Dimensions.Width, &pt.Dimensions.Height, &pt.HandlingFee); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *Stores) carriers(ctx context.Context, storeID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT carrier FROM store_carriers WHERE store_id = $1 ORDER BY sort_order, carrier`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ZonesByCountry lists the zones of a country. Unknown countries wrap common.ErrNotFound.
func (s *Stores) ZonesByCountry(ctx context.Context, countryCode string) ([]merchant.Zone, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM countries WHERE code = $1)`, countryCode).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("country %s: %w", countryCode, common.ErrNotFound)
	}
	rows, err := s.db.Query(ctx, `SELECT country_code, code, name FROM zones WHERE country_code = $1 ORDER BY code`, countryCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	zones := make([]merchant.Zone, 0)
	for rows.Next() {
		var z merchant.Zone
		if err := rows.Scan(&z.CountryCode, &z.Code, &z.Name); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}
