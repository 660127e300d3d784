package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// Querier is the subset of pgx used by Store. *pgxpool.Pool satisfies it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads catalog records from PostgreSQL.
type Store struct {
	DB Querier
}

const productSQL = `SELECT id::text, name, COALESCE(image, ''), regular_price, sale_price, offer_id::text
FROM products
WHERE id = $1 AND deleted_at IS NULL`

// Product loads a product by identifier.
func (s Store) Product(ctx context.Context, id string) (Product, error) {
	pid, ok := parseID(id)
	if !ok {
		return Product{}, ErrNotFound
	}
	var (
		p       Product
		regular int64
		sale    *int64
	)
	err := s.DB.QueryRow(ctx, productSQL, pid).Scan(&p.ID, &p.Name, &p.Image, &regular, &sale, &p.OfferID)
	if err != nil {
		return Product{}, notFound("get product", err)
	}
	p.RegularPrice = pricing.Money(regular)
	p.SalePrice = moneyPtr(sale)
	return p, nil
}

const variationSQL = `SELECT id::text, product_id::text, name, price, sale_price
FROM product_variations
WHERE id = $1`

// Variation loads a product variation by identifier.
func (s Store) Variation(ctx context.Context, id string) (Variation, error) {
	vid, ok := parseID(id)
	if !ok {
		return Variation{}, ErrNotFound
	}
	var (
		v     Variation
		price int64
		sale  *int64
	)
	err := s.DB.QueryRow(ctx, variationSQL, vid).Scan(&v.ID, &v.ProductID, &v.Name, &price, &sale)
	if err != nil {
		return Variation{}, notFound("get variation", err)
	}
	v.Price = pricing.Money(price)
	v.SalePrice = moneyPtr(sale)
	return v, nil
}

const activeFlashSaleSQL = `SELECT fs.id::text, fsp.product_id::text, fsp.discount_type, fsp.discount_value::text, fs.starts_at, fs.ends_at
FROM flash_sale_products fsp
JOIN flash_sales fs ON fs.id = fsp.flash_sale_id
WHERE fsp.product_id = $1
  AND fs.status = 'active'
  AND fs.starts_at <= $2
  AND fs.ends_at > $2
ORDER BY fs.ends_at ASC
LIMIT 1`

// ActiveFlashSale returns the flash sale window covering now for the product.
func (s Store) ActiveFlashSale(ctx context.Context, productID string, now time.Time) (FlashSale, error) {
	pid, ok := parseID(productID)
	if !ok {
		return FlashSale{}, ErrNotFound
	}
	var (
		fs    FlashSale
		kind  string
		value string
	)
	err := s.DB.QueryRow(ctx, activeFlashSaleSQL, pid, now).Scan(&fs.ID, &fs.ProductID, &kind, &value, &fs.StartsAt, &fs.EndsAt)
	if err != nil {
		return FlashSale{}, notFound("get active flash sale", err)
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return FlashSale{}, fmt.Errorf("parse flash sale discount: %w", err)
	}
	fs.Discount = pricing.FlashDiscount{Kind: pricing.ParseDiscountKind(kind), Value: amount}
	return fs, nil
}

const activeOfferSQL = `SELECT id::text, offer_type, buy_count, get_count, buy_at
FROM offers
WHERE id = $1
  AND status = 'active'
  AND (starts_at IS NULL OR starts_at <= $2)
  AND (ends_at IS NULL OR ends_at > $2)`

// ActiveOffer returns the offer when it is active at now.
func (s Store) ActiveOffer(ctx context.Context, offerID string, now time.Time) (pricing.Offer, error) {
	oid, ok := parseID(offerID)
	if !ok {
		return pricing.Offer{}, ErrNotFound
	}
	var (
		o        pricing.Offer
		kind     string
		buyCount *int32
		getCount *int32
		buyAt    *int64
	)
	err := s.DB.QueryRow(ctx, activeOfferSQL, oid, now).Scan(&o.ID, &kind, &buyCount, &getCount, &buyAt)
	if err != nil {
		return pricing.Offer{}, notFound("get active offer", err)
	}
	o.Kind = pricing.ParseOfferKind(kind)
	if buyCount != nil {
		o.BuyCount = int(*buyCount)
	}
	if getCount != nil {
		o.GetCount = int(*getCount)
	}
	if buyAt != nil {
		o.BuyAt = pricing.Money(*buyAt)
	}
	return o, nil
}

func parseID(value string) (pgtype.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: id, Valid: true}, true
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func moneyPtr(v *int64) *pricing.Money {
	if v == nil {
		return nil
	}
	m := pricing.Money(*v)
	return &m
}
