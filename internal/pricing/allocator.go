package pricing

import "strings"

// OfferKind enumerates multi-unit promotion rules.
type OfferKind int

const (
	OfferUnknown OfferKind = iota
	// OfferBuyXGetY gives GetCount units free for every BuyCount paid units.
	OfferBuyXGetY
	// OfferBuyXAtX sells every BuyCount units for the fixed bundle price BuyAt.
	OfferBuyXAtX
)

// ParseOfferKind maps the catalog representation onto an OfferKind.
func ParseOfferKind(value string) OfferKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy_x_get_y":
		return OfferBuyXGetY
	case "buy_x_at_x":
		return OfferBuyXAtX
	default:
		return OfferUnknown
	}
}

func (k OfferKind) String() string {
	switch k {
	case OfferBuyXGetY:
		return "buy_x_get_y"
	case OfferBuyXAtX:
		return "buy_x_at_x"
	default:
		return "unknown"
	}
}

// Offer is a resolved, currently valid promotion.
type Offer struct {
	ID       string
	Kind     OfferKind
	BuyCount int
	GetCount int
	BuyAt    Money
}

// OfferStatus records how an offer group was priced.
type OfferStatus string

const (
	OfferStatusNone    OfferStatus = ""
	OfferStatusApplied OfferStatus = "applied"
	OfferStatusExpired OfferStatus = "expired"
	OfferStatusMissing OfferStatus = "missing"
)

// Line is one member of an offer group. UnitBefore and Quantity are inputs; the
// remaining fields are written by Allocate.
type Line struct {
	Quantity   int
	UnitBefore Money
	// UnitAfter is the rounded mean of the line's unit slice.
	UnitAfter Money
	// LineTotalAfter is the exact slice sum and wins over UnitAfter*Quantity.
	LineTotalAfter Money
	OfferApplied   bool
	OfferStatus    OfferStatus
}

// Usable reports whether the offer can be allocated, and the degraded status otherwise.
// A nil offer did not resolve in the catalog.
func (o *Offer) Usable() (bool, OfferStatus) {
	if o == nil {
		return false, OfferStatusExpired
	}
	if o.BuyCount <= 0 {
		return false, OfferStatusMissing
	}
	switch o.Kind {
	case OfferBuyXGetY:
		if o.GetCount <= 0 {
			return false, OfferStatusMissing
		}
	case OfferBuyXAtX:
		if o.BuyAt <= 0 {
			return false, OfferStatusMissing
		}
	default:
		return false, OfferStatusMissing
	}
	return true, OfferStatusApplied
}

// Allocate prices an offer group. Every unit of the group is laid out in line
// order, the offer rule is applied to that flat sequence, and each line's total
// is the exact sum of its own units. UnitAfter is the rounded mean of the slice.
func Allocate(offer *Offer, lines []*Line) OfferStatus {
	ok, status := offer.Usable()
	if !ok {
		for _, l := range lines {
			l.UnitAfter = l.UnitBefore
			l.LineTotalAfter = l.UnitBefore.Times(l.Quantity)
			l.OfferApplied = false
			l.OfferStatus = status
		}
		return status
	}

	units := flatten(lines)
	switch offer.Kind {
	case OfferBuyXGetY:
		buyXGetY(units, offer.BuyCount, offer.GetCount)
	case OfferBuyXAtX:
		bundle(units, offer.BuyCount, offer.BuyAt)
	}

	offset := 0
	for _, l := range lines {
		qty := l.Quantity
		if qty < 0 {
			qty = 0
		}
		var sum Money
		for _, u := range units[offset : offset+qty] {
			sum += u
		}
		offset += qty
		l.LineTotalAfter = sum
		l.UnitAfter = MeanRounded(sum, qty)
		if qty == 0 {
			l.UnitAfter = l.UnitBefore
		}
		l.OfferApplied = true
		l.OfferStatus = OfferStatusApplied
	}
	return OfferStatusApplied
}

func flatten(lines []*Line) []Money {
	total := 0
	for _, l := range lines {
		if l.Quantity > 0 {
			total += l.Quantity
		}
	}
	units := make([]Money, 0, total)
	for _, l := range lines {
		for i := 0; i < l.Quantity; i++ {
			units = append(units, l.UnitBefore)
		}
	}
	return units
}

// buyXGetY zeroes the trailing getCount units of every complete group of
// buyCount+getCount units. Leftover units stay at base price.
func buyXGetY(units []Money, buyCount, getCount int) {
	groupSize := buyCount + getCount
	numGroups := len(units) / groupSize
	for g := 0; g < numGroups; g++ {
		start := g*groupSize + buyCount
		for i := start; i < start+getCount; i++ {
			units[i] = 0
		}
	}
}

// bundle spreads buyAt over every complete group of buyCount units. The cents
// left by integer division go one each to the first units of the group, so each
// group sums to buyAt exactly. No unit is priced above its base price.
func bundle(units []Money, buyCount int, buyAt Money) {
	numGroups := len(units) / buyCount
	per := buyAt / Money(buyCount)
	remainder := int(buyAt % Money(buyCount))
	for g := 0; g < numGroups; g++ {
		for j := 0; j < buyCount; j++ {
			idx := g*buyCount + j
			price := per
			if j < remainder {
				price++
			}
			units[idx] = minMoney(price, units[idx])
		}
	}
}
