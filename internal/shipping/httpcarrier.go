package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/pricing"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Doer executes outbound requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = resilience.HTTPClient{}

// HTTPCarrier rates shipments through a remote JSON rating API.
type HTTPCarrier struct {
	Code    string
	BaseURL string
	APIKey  string
	Client  Doer
}

type ratePackage struct {
	Code        string `json:"code"`
	WeightGrams int64  `json:"weightGrams"`
	LengthMM    int64  `json:"lengthMm"`
	WidthMM     int64  `json:"widthMm"`
	HeightMM    int64  `json:"heightMm"`
}

type rateAddress struct {
	Country    string `json:"country"`
	Zone       string `json:"zone,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
}

type ratePayload struct {
	Carrier     string        `json:"carrier"`
	StoreID     string        `json:"storeId"`
	Currency    string        `json:"currency"`
	Origin      rateAddress   `json:"origin"`
	Destination rateAddress   `json:"destination"`
	Packages    []ratePackage `json:"packages"`
}

type rateResponse struct {
	Amount   *int64 `json:"amount"`
	Currency string `json:"currency"`
}

// ID returns the carrier code.
func (c HTTPCarrier) ID() string { return c.Code }

// Rate implements Carrier.
func (c HTTPCarrier) Rate(ctx context.Context, req RateRequest) (pricing.Money, error) {
	if c.Client == nil || strings.TrimSpace(c.BaseURL) == "" {
		return 0, errors.New("shipping: rating api not configured")
	}
	payload := ratePayload{
		Carrier:     c.Code,
		StoreID:     req.StoreID,
		Currency:    req.Currency.Code,
		Origin:      toRateAddress(req.Origin),
		Destination: toRateAddress(req.Destination),
	}
	for _, p := range req.Shipment.Packages {
		payload.Packages = append(payload.Packages, ratePackage{
			Code:        p.Type.Code,
			WeightGrams: p.WeightGrams(),
			LengthMM:    p.Type.Dimensions.Length,
			WidthMM:     p.Type.Dimensions.Width,
			HeightMM:    p.Type.Dimensions.Height,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/rates", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(ctx, httpReq)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", c.Code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity {
		return 0, fmt.Errorf("%s: %w", c.Code, ErrNoRate)
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%s: rating api returned %d: %s", c.Code, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%s: decode rate: %w", c.Code, err)
	}
	if out.Amount == nil || *out.Amount < 0 {
		return 0, fmt.Errorf("%s: rating api returned no amount", c.Code)
	}
	if out.Currency != "" && req.Currency.Code != "" && !strings.EqualFold(out.Currency, req.Currency.Code) {
		return 0, fmt.Errorf("%s: rating api answered in %s, want %s", c.Code, out.Currency, req.Currency.Code)
	}
	return *out.Amount, nil
}

func toRateAddress(a pricing.Address) rateAddress {
	return rateAddress{Country: a.CountryCode, Zone: a.ZoneCode, PostalCode: a.PostalCode, City: a.City}
}
