package shipping

import (
	"fmt"
	"sort"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// PackageType is a box configured by the store.
type PackageType struct {
	Code           string             `json:"code"`
	MaxWeightGrams int64              `json:"maxWeightGrams"`
	Dimensions     pricing.Dimensions `json:"dimensions"`
	HandlingFee    pricing.Money      `json:"handlingFee,omitempty"`
}

// Unit is one physical unit of a cart item.
type Unit struct {
	ItemID      string             `json:"itemId"`
	Index       int                `json:"index"`
	WeightGrams int64              `json:"weightGrams"`
	Dimensions  pricing.Dimensions `json:"dimensions"`
}

// Package is an opened box and the units placed in it.
type Package struct {
	Type  PackageType `json:"type"`
	Units []Unit      `json:"units"`
}

// WeightGrams returns the summed weight of the packed units.
func (p Package) WeightGrams() int64 {
	var total int64
	for _, u := range p.Units {
		total += u.WeightGrams
	}
	return total
}

// PackedShipment is the assignment of cart units to physical packages.
type PackedShipment struct {
	Packages []Package `json:"packages"`
}

// WeightGrams returns the total shipped weight.
func (s PackedShipment) WeightGrams() int64 {
	var total int64
	for _, p := range s.Packages {
		total += p.WeightGrams()
	}
	return total
}

// HandlingFees sums the fixed fees of the selected package types.
func (s PackedShipment) HandlingFees() pricing.Money {
	var total pricing.Money
	for _, p := range s.Packages {
		total += p.Type.HandlingFee
	}
	return total
}

// MaxShipmentUnits bounds the number of physical units in one shipment.
const MaxShipmentUnits = 5000

// ExpandUnits turns shippable cart items into individual units. Virtual items are skipped.
func ExpandUnits(items []pricing.CartItem) ([]Unit, error) {
	total := 0
	for _, it := range items {
		if it.Virtual {
			continue
		}
		if it.Quantity <= 0 || it.Quantity > pricing.MaxQuantity {
			return nil, common.Validation(pricing.ErrInvalidQuantity, fmt.Sprintf("item %s has quantity %d", it.ID, it.Quantity))
		}
		d := it.Dimensions
		if it.WeightGrams <= 0 || !d.Positive() {
			return nil, common.Validation(nil, fmt.Sprintf("item %s is missing weight or dimensions", it.ID)).
				WithDetails(map[string]any{"itemId": it.ID})
		}
		if it.WeightGrams > pricing.MaxWeightGrams || sortedAxes(d)[0] > pricing.MaxDimensionMM {
			return nil, common.Validation(nil, fmt.Sprintf("item %s exceeds the shippable weight or size", it.ID)).
				WithDetails(map[string]any{"itemId": it.ID, "weightGrams": it.WeightGrams, "dimensions": d})
		}
		total += it.Quantity
	}
	if total > MaxShipmentUnits {
		return nil, common.Validation(nil, fmt.Sprintf("shipment has %d units, at most %d allowed", total, MaxShipmentUnits)).
			WithDetails(map[string]any{"units": total, "maxUnits": MaxShipmentUnits})
	}

	units := make([]Unit, 0, total)
	for _, it := range items {
		if it.Virtual {
			continue
		}
		for i := 0; i < it.Quantity; i++ {
			units = append(units, Unit{ItemID: it.ID, Index: i, WeightGrams: it.WeightGrams, Dimensions: it.Dimensions})
		}
	}
	return units, nil
}

// Pack assigns units to packages using first-fit-decreasing by weight.
//
// This is a greedy heuristic, not an optimal bin packing. Carrier pricing is
// tiered per package, so a near-optimal assignment is sufficient. Units are
// placed orientation-free: a unit fits a box when its sorted dimensions do not
// exceed the box's sorted dimensions, and units are stacked along the box's
// shortest axis, which bounds the remaining height.
func Pack(units []Unit, types []PackageType) (PackedShipment, error) {
	if len(units) == 0 {
		return PackedShipment{}, nil
	}
	for _, pt := range types {
		if pt.MaxWeightGrams <= 0 || !pt.Dimensions.Positive() {
			return PackedShipment{}, common.Validation(nil, fmt.Sprintf("package type %s has no usable capacity", pt.Code))
		}
	}
	sorted := append([]Unit(nil), units...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.WeightGrams != b.WeightGrams {
			return a.WeightGrams > b.WeightGrams
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.Index < b.Index
	})

	var open []*bin
	for _, u := range sorted {
		placed := false
		for _, b := range open {
			if b.fits(u) {
				b.add(u)
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		pt, ok := smallestTypeFor(u, types)
		if !ok {
			return PackedShipment{}, common.NoApplicablePackage(fmt.Sprintf("item %s does not fit any package type", u.ItemID)).
				WithDetails(map[string]any{"itemId": u.ItemID, "weightGrams": u.WeightGrams, "dimensions": u.Dimensions})
		}
		b := &bin{pkg: Package{Type: pt}, capHeight: sortedAxes(pt.Dimensions)[2]}
		b.add(u)
		open = append(open, b)
	}

	out := PackedShipment{Packages: make([]Package, len(open))}
	for i, b := range open {
		out.Packages[i] = b.pkg
	}
	return out, nil
}

// bin is a package being filled. It keeps running totals so that each
// placement check is constant time.
type bin struct {
	pkg       Package
	weight    int64
	height    int64
	capHeight int64
}

func (b *bin) fits(u Unit) bool {
	if b.weight+u.WeightGrams > b.pkg.Type.MaxWeightGrams {
		return false
	}
	if !footprintFits(b.pkg.Type.Dimensions, u.Dimensions) {
		return false
	}
	return b.height+sortedAxes(u.Dimensions)[2] <= b.capHeight
}

func (b *bin) add(u Unit) {
	b.pkg.Units = append(b.pkg.Units, u)
	b.weight += u.WeightGrams
	b.height += sortedAxes(u.Dimensions)[2]
}

func holdsAlone(pt PackageType, u Unit) bool {
	return u.WeightGrams <= pt.MaxWeightGrams && footprintFits(pt.Dimensions, u.Dimensions) &&
		sortedAxes(u.Dimensions)[2] <= sortedAxes(pt.Dimensions)[2]
}

func footprintFits(box, item pricing.Dimensions) bool {
	b, it := sortedAxes(box), sortedAxes(item)
	return it[0] <= b[0] && it[1] <= b[1]
}

// smallestTypeFor picks the type with the smallest max weight, then volume, then code.
func smallestTypeFor(u Unit, types []PackageType) (PackageType, bool) {
	var (
		best  PackageType
		found bool
	)
	for _, pt := range types {
		if !holdsAlone(pt, u) {
			continue
		}
		if !found || lessType(pt, best) {
			best = pt
			found = true
		}
	}
	return best, found
}

func lessType(a, b PackageType) bool {
	if a.MaxWeightGrams != b.MaxWeightGrams {
		return a.MaxWeightGrams < b.MaxWeightGrams
	}
	if c := a.Dimensions.Volume().Cmp(b.Dimensions.Volume()); c != 0 {
		return c < 0
	}
	return a.Code < b.Code
}

// sortedAxes returns the dimensions largest first.
func sortedAxes(d pricing.Dimensions) [3]int64 {
	axes := [3]int64{d.Length, d.Width, d.Height}
	if axes[0] < axes[1] {
		axes[0], axes[1] = axes[1], axes[0]
	}
	if axes[1] < axes[2] {
		axes[1], axes[2] = axes[2], axes[1]
	}
	if axes[0] < axes[1] {
		axes[0], axes[1] = axes[1], axes[0]
	}
	return axes
}
