package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// ErrNotFound indicates the requested catalog record does not exist or is not active.
var ErrNotFound = errors.New("catalog: record not found")

// Product is the pricing view of a catalog product.
type Product struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Image        string         `json:"image,omitempty"`
	RegularPrice pricing.Money  `json:"regularPrice"`
	SalePrice    *pricing.Money `json:"salePrice,omitempty"`
	OfferID      *string        `json:"offerId,omitempty"`
}

// Prices returns the product's regular/sale pair.
func (p Product) Prices() pricing.PriceSet {
	return pricing.PriceSet{Regular: p.RegularPrice, Sale: p.SalePrice}
}

// Variation is the pricing view of a product variation.
type Variation struct {
	ID        string         `json:"id"`
	ProductID string         `json:"productId"`
	Name      string         `json:"name"`
	Price     pricing.Money  `json:"price"`
	SalePrice *pricing.Money `json:"salePrice,omitempty"`
}

// Prices returns the variation's regular/sale pair.
func (v Variation) Prices() pricing.PriceSet {
	return pricing.PriceSet{Regular: v.Price, Sale: v.SalePrice}
}

// FlashSale is a flash sale window currently active for one product.
type FlashSale struct {
	ID        string
	ProductID string
	Discount  pricing.FlashDiscount
	StartsAt  time.Time
	EndsAt    time.Time
}

// Accessor exposes the read-only catalog lookups the cart engine depends on.
// Every method is a side-effect free read returning ErrNotFound when nothing matches.
type Accessor interface {
	Product(ctx context.Context, id string) (Product, error)
	Variation(ctx context.Context, id string) (Variation, error)
	ActiveFlashSale(ctx context.Context, productID string, now time.Time) (FlashSale, error)
	ActiveOffer(ctx context.Context, offerID string, now time.Time) (pricing.Offer, error)
}
