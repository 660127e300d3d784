package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/cart-pricing/internal/pricing"
	"github.com/noah-isme/cart-pricing/internal/resilience"
)

// Guarded fails fast while the catalog database is unhealthy. ErrNotFound is
// an expected answer and does not count against the breaker.
type Guarded struct {
	Next    Accessor
	Breaker *resilience.Breaker
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled)
}

func guard[T any](ctx context.Context, b *resilience.Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	if b == nil {
		return fn(ctx)
	}
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	}, countsAsFailure)
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return out, fmt.Errorf("catalog unavailable: %w", err)
	}
	return out, err
}

// Product implements Accessor.
func (g Guarded) Product(ctx context.Context, id string) (Product, error) {
	return guard(ctx, g.Breaker, func(ctx context.Context) (Product, error) { return g.Next.Product(ctx, id) })
}

// Variation implements Accessor.
func (g Guarded) Variation(ctx context.Context, id string) (Variation, error) {
	return guard(ctx, g.Breaker, func(ctx context.Context) (Variation, error) { return g.Next.Variation(ctx, id) })
}

// ActiveFlashSale implements Accessor.
func (g Guarded) ActiveFlashSale(ctx context.Context, productID string, now time.Time) (FlashSale, error) {
	return guard(ctx, g.Breaker, func(ctx context.Context) (FlashSale, error) {
		return g.Next.ActiveFlashSale(ctx, productID, now)
	})
}

// ActiveOffer implements Accessor.
func (g Guarded) ActiveOffer(ctx context.Context, offerID string, now time.Time) (pricing.Offer, error) {
	return guard(ctx, g.Breaker, func(ctx context.Context) (pricing.Offer, error) {
		return g.Next.ActiveOffer(ctx, offerID, now)
	})
}
