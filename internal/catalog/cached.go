package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// Cached is a read-through Accessor. Products and variations are served from
// Cache; flash sales and offers are time bounded and always go to Next.
type Cached struct {
	Next   Accessor
	Cache  *Cache
	Logger *zerolog.Logger
}

// Product implements Accessor.
func (c Cached) Product(ctx context.Context, id string) (Product, error) {
	key := c.Cache.key("product", id)
	var p Product
	if ok, err := c.Cache.GetJSON(ctx, key, &p); err == nil && ok {
		return p, nil
	} else if err != nil {
		c.warn(err, key)
	}
	p, err := c.Next.Product(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := c.Cache.SetJSON(ctx, key, p); err != nil {
		c.warn(err, key)
	}
	return p, nil
}

// Variation implements Accessor.
func (c Cached) Variation(ctx context.Context, id string) (Variation, error) {
	key := c.Cache.key("variation", id)
	var v Variation
	if ok, err := c.Cache.GetJSON(ctx, key, &v); err == nil && ok {
		return v, nil
	} else if err != nil {
		c.warn(err, key)
	}
	v, err := c.Next.Variation(ctx, id)
	if err != nil {
		return Variation{}, err
	}
	if err := c.Cache.SetJSON(ctx, key, v); err != nil {
		c.warn(err, key)
	}
	return v, nil
}

// ActiveFlashSale implements Accessor.
func (c Cached) ActiveFlashSale(ctx context.Context, productID string, now time.Time) (FlashSale, error) {
	return c.Next.ActiveFlashSale(ctx, productID, now)
}

// ActiveOffer implements Accessor.
func (c Cached) ActiveOffer(ctx context.Context, offerID string, now time.Time) (pricing.Offer, error) {
	return c.Next.ActiveOffer(ctx, offerID, now)
}

func (c Cached) warn(err error, key string) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn().Err(err).Str("key", key).Msg("catalog cache")
}
