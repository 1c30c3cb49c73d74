package pricing

import "github.com/shopspring/decimal"

// Upper bounds on a single cart line. Shipping expands every unit of a line,
// so these also bound the work of one packing run.
const (
	MaxQuantity    = 1000
	MaxWeightGrams = 1_000_000
	MaxDimensionMM = 100_000
)

// Dimensions are outer measurements in millimetres.
type Dimensions struct {
	Length int64 `json:"length" validate:"gte=0,lte=100000"`
	Width  int64 `json:"width" validate:"gte=0,lte=100000"`
	Height int64 `json:"height" validate:"gte=0,lte=100000"`
}

// Positive reports whether every axis is greater than zero.
func (d Dimensions) Positive() bool {
	return d.Length > 0 && d.Width > 0 && d.Height > 0
}

// Volume returns the cubic volume in mm³. It is exact for any axis lengths.
func (d Dimensions) Volume() decimal.Decimal {
	return decimal.NewFromInt(d.Length).Mul(decimal.NewFromInt(d.Width)).Mul(decimal.NewFromInt(d.Height))
}

// CartItem is a line captured from a shopping cart at the start of a pricing run.
type CartItem struct {
	ID          string          `json:"id"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity" validate:"gt=0,lte=1000"`
	WeightGrams int64           `json:"weightGrams" validate:"gte=0,lte=1000000"`
	Dimensions  Dimensions      `json:"dimensions"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxClass    string          `json:"taxClass,omitempty"`
	CategoryID  string          `json:"categoryId,omitempty"`
	Virtual     bool            `json:"virtual,omitempty"`
}

// Address identifies a shipping or billing location.
type Address struct {
	CountryCode string `json:"countryCode"`
	ZoneCode    string `json:"zoneCode,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	City        string `json:"city,omitempty"`
	Line1       string `json:"line1,omitempty"`
}

// Customer carries the optional buyer context used for customer prices and tax jurisdiction.
type Customer struct {
	ID      string   `json:"id"`
	GroupID string   `json:"groupId,omitempty"`
	Billing *Address `json:"billing,omitempty"`
}

// PricedLine is a cart item with its resolved price and tax.
type PricedLine struct {
	Item         CartItem        `json:"item"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	PriceKind    PriceKind       `json:"priceKind"`
	Subtotal     Money           `json:"subtotal"`
	Tax          Money           `json:"tax"`
	PriceChanged bool            `json:"priceChanged"`
}

// Subtotal sums the line subtotals.
func Subtotal(lines []PricedLine) Money {
	var total Money
	for _, l := range lines {
		total += l.Subtotal
	}
	return total
}
