package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountKind enumerates flash sale discount rules.
type DiscountKind int

const (
	DiscountUnknown DiscountKind = iota
	DiscountPercentage
	DiscountFixed
)

// ParseDiscountKind maps the catalog representation onto a DiscountKind.
func ParseDiscountKind(value string) DiscountKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "percentage", "percent":
		return DiscountPercentage
	case "fixed":
		return DiscountFixed
	default:
		return DiscountUnknown
	}
}

func (k DiscountKind) String() string {
	switch k {
	case DiscountPercentage:
		return "percentage"
	case DiscountFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// FlashDiscount is the discount rule of an active flash sale window.
type FlashDiscount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// PriceSet pairs a regular price with an optional sale price.
type PriceSet struct {
	Regular Money
	Sale    *Money
}

// Effective returns the sale price when present, otherwise the regular price.
func (p PriceSet) Effective() Money {
	if p.Sale != nil {
		return *p.Sale
	}
	return p.Regular
}

// BaseInput carries everything needed to price one unit before offers.
type BaseInput struct {
	Override  *Money
	Product   PriceSet
	Variation *PriceSet
	// FlashSale mirrors the line's flash designation.
	FlashSale bool
	// Flash is the currently active window, nil when none is active.
	Flash *FlashDiscount
}

// BaseResult is the outcome of BaseUnitPrice.
type BaseResult struct {
	UnitPrice Money
	FlashSale bool
	// Reverted reports that the line was flash priced but no window is active anymore.
	Reverted bool
}

// BaseUnitPrice computes the pre-offer unit price of a line.
//
// An override pins the price. Otherwise the variation price set wins over the
// product price set, and an active flash window replaces the result with a
// discount of the undiscounted (regular) price. A flash designation without an
// active window is cleared.
func BaseUnitPrice(in BaseInput) BaseResult {
	active := in.Flash != nil && in.Flash.Kind != DiscountUnknown
	if in.Override != nil {
		return BaseResult{
			UnitPrice: *in.Override,
			FlashSale: in.FlashSale && active,
			Reverted:  in.FlashSale && !active,
		}
	}

	prices := in.Product
	if in.Variation != nil {
		prices = *in.Variation
	}
	base := prices.Effective()
	if !in.FlashSale {
		return BaseResult{UnitPrice: base}
	}
	if !active {
		return BaseResult{UnitPrice: base, Reverted: true}
	}
	return BaseResult{UnitPrice: ApplyFlash(prices.Regular, *in.Flash), FlashSale: true}
}

// ApplyFlash discounts an undiscounted unit price by a flash rule, never below zero
// and never above the undiscounted price.
func ApplyFlash(undiscounted Money, d FlashDiscount) Money {
	amount := undiscounted.Decimal()
	switch d.Kind {
	case DiscountPercentage:
		amount = amount.Mul(decimal.NewFromInt(1).Sub(d.Value.Div(hundred)))
	case DiscountFixed:
		amount = amount.Sub(d.Value)
	default:
		return undiscounted
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return minMoney(FromDecimal(amount), undiscounted)
}
