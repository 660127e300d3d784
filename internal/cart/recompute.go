package cart

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricing/internal/catalog"
	"github.com/noah-isme/cart-pricing/internal/obs"
	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// pass is one full pricing pass over a cart. It reads the catalog but never
// writes; the caller persists the result.
type pass struct {
	catalog catalog.Accessor
	now     time.Time
	taxBps  int
	log     *zerolog.Logger

	flash map[string]flashLookup
}

type flashLookup struct {
	sale catalog.FlashSale
	err  error
}

type passResult struct {
	Items   []Item
	Summary Summary
	// Live is true while any line is flash priced or awaiting a flash check.
	Live     bool
	Reverted int
	// FlashEndsAt is the earliest end of the flash windows in use, zero when none.
	FlashEndsAt time.Time
}

func (p *pass) run(ctx context.Context, items []Item) passResult {
	out := make([]Item, len(items))
	copy(out, items)
	res := passResult{Items: out}

	for i := range out {
		if out[i].IsCombo() {
			continue
		}
		if p.price(ctx, &out[i], &res) {
			res.Reverted++
		}
	}
	p.allocate(ctx, out)

	totals := make([]pricing.LineTotals, 0, len(out))
	for _, it := range out {
		totals = append(totals, pricing.LineTotals{Before: it.LineTotalBefore, After: it.LineTotalAfter})
		if it.IsFlashSale || it.FlashPending {
			res.Live = true
		}
	}
	s := pricing.Summarize(totals, p.taxBps)
	res.Summary = Summary{
		Subtotal:      s.Subtotal,
		Total:         s.Total,
		TotalDiscount: s.Discount,
		EstimatedTax:  s.Tax,
	}
	return res
}

// price resolves the pre-offer unit price of a simple line. It reports whether
// an expired flash designation was cleared.
func (p *pass) price(ctx context.Context, it *Item, res *passResult) bool {
	if prod, err := p.catalog.Product(ctx, it.ProductID); err == nil {
		it.RegularPrice = prod.RegularPrice
		it.SalePrice = prod.SalePrice
		if prod.Name != "" {
			it.Name = prod.Name
		}
		if prod.Image != "" {
			it.Image = prod.Image
		}
	} else if !errors.Is(err, catalog.ErrNotFound) {
		p.log.Warn().Err(err).Str("item_id", it.ID).Str("product_id", it.ProductID).Msg("product lookup failed, using stored prices")
	}

	in := pricing.BaseInput{
		Override:  it.OverridePrice,
		Product:   pricing.PriceSet{Regular: it.RegularPrice, Sale: it.SalePrice},
		FlashSale: it.IsFlashSale,
	}
	if it.VariationID != nil {
		v, err := p.catalog.Variation(ctx, *it.VariationID)
		if err == nil {
			prices := v.Prices()
			in.Variation = &prices
		} else {
			p.log.Warn().Err(err).Str("item_id", it.ID).Str("variation_id", *it.VariationID).Msg("variation lookup failed, using product prices")
		}
	}

	var endsAt time.Time
	if it.IsFlashSale || it.FlashPending {
		sale, err := p.activeFlash(ctx, it.ProductID)
		switch {
		case err == nil:
			in.Flash = &sale.Discount
			in.FlashSale = true
			it.FlashPending = false
			endsAt = sale.EndsAt
		case errors.Is(err, catalog.ErrNotFound):
			it.FlashPending = false
		case it.IsFlashSale:
			// Window state unknown: keep the flash price already on the line.
			p.log.Warn().Err(err).Str("item_id", it.ID).Str("product_id", it.ProductID).Msg("flash sale lookup failed, keeping flash price")
			resetOffer(it)
			return false
		default:
			p.log.Warn().Err(err).Str("item_id", it.ID).Str("product_id", it.ProductID).Msg("flash sale lookup failed, line stays pending")
		}
	}

	base := pricing.BaseUnitPrice(in)
	it.UnitPriceBefore = base.UnitPrice
	it.IsFlashSale = base.FlashSale
	if base.FlashSale && !endsAt.IsZero() && (res.FlashEndsAt.IsZero() || endsAt.Before(res.FlashEndsAt)) {
		res.FlashEndsAt = endsAt
	}
	resetOffer(it)
	if base.Reverted {
		p.log.Info().Str("cart_id", it.CartID).Str("item_id", it.ID).Str("product_id", it.ProductID).Msg("flash sale ended, price reverted")
	}
	return base.Reverted
}

func (p *pass) activeFlash(ctx context.Context, productID string) (catalog.FlashSale, error) {
	if p.flash == nil {
		p.flash = make(map[string]flashLookup)
	}
	if hit, ok := p.flash[productID]; ok {
		return hit.sale, hit.err
	}
	sale, err := p.catalog.ActiveFlashSale(ctx, productID, p.now)
	p.flash[productID] = flashLookup{sale: sale, err: err}
	return sale, err
}

func resetOffer(it *Item) {
	it.LineTotalBefore = it.UnitPriceBefore.Times(it.Quantity)
	it.UnitPriceAfter = it.UnitPriceBefore
	it.LineTotalAfter = it.LineTotalBefore
	it.OfferApplied = false
	it.OfferStatus = pricing.OfferStatusNone
}

// allocate runs the promotion allocator once per distinct offer, in the order
// offers first appear. Combo parents never join a group.
func (p *pass) allocate(ctx context.Context, items []Item) {
	var order []string
	groups := make(map[string][]int)
	for i, it := range items {
		if it.IsCombo() || it.OfferID == nil || *it.OfferID == "" {
			continue
		}
		id := *it.OfferID
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], i)
	}

	for _, id := range order {
		var offer *pricing.Offer
		resolved, err := p.catalog.ActiveOffer(ctx, id, p.now)
		switch {
		case err == nil:
			offer = &resolved
		case errors.Is(err, catalog.ErrNotFound):
		default:
			p.log.Warn().Err(err).Str("offer_id", id).Msg("offer lookup failed, pricing without offer")
		}

		idx := groups[id]
		lines := make([]*pricing.Line, len(idx))
		for j, i := range idx {
			lines[j] = &pricing.Line{Quantity: items[i].Quantity, UnitBefore: items[i].UnitPriceBefore}
		}
		status := pricing.Allocate(offer, lines)
		for j, i := range idx {
			l := lines[j]
			items[i].UnitPriceAfter = l.UnitAfter
			items[i].LineTotalAfter = l.LineTotalAfter
			items[i].OfferApplied = l.OfferApplied
			items[i].OfferStatus = l.OfferStatus
		}
		obs.ObserveOfferOutcome(string(status))
		if status != pricing.OfferStatusApplied {
			p.log.Debug().Str("offer_id", id).Str("status", string(status)).Int("lines", len(idx)).Msg("offer not applied")
		}
	}
}
