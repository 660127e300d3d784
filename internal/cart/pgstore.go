package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore persists carts in PostgreSQL.
type PGStore struct {
	DB TxBeginner
}

// InTx runs fn in a transaction committed only when fn succeeds.
func (s PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.DB == nil {
		return errors.New("cart store not configured")
	}
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

const ensureCartSQL = `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

const lockCartSQL = `SELECT id::text, user_id, subtotal, total, total_discount, estimated_tax, modified
FROM carts
WHERE user_id = $1
FOR UPDATE`

func (t pgTx) LockCart(ctx context.Context, userID string) (Cart, error) {
	if _, err := t.tx.Exec(ctx, ensureCartSQL, userID); err != nil {
		return Cart{}, err
	}
	var (
		c                              Cart
		subtotal, total, discount, tax int64
	)
	err := t.tx.QueryRow(ctx, lockCartSQL, userID).Scan(&c.ID, &c.UserID, &subtotal, &total, &discount, &tax, &c.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, err
	}
	c.Summary = Summary{
		Subtotal:      pricing.Money(subtotal),
		Total:         pricing.Money(total),
		TotalDiscount: pricing.Money(discount),
		EstimatedTax:  pricing.Money(tax),
	}
	return c, nil
}

const listItemsSQL = `SELECT id::text, cart_id::text, user_id, product_id::text, variation_id::text,
  variation_name, referrer, name, image, quantity, regular_price, sale_price, override_price,
  offer_id::text, is_flash_sale, flash_pending, offer_applied, offer_status,
  unit_price_before, unit_price_after, line_total_before, line_total_after,
  product_type, combo_id::text, position
FROM cart_items
WHERE cart_id = $1
ORDER BY position`

const listChildrenSQL = `SELECT ch.combo_id::text, ch.product_id::text, ch.variation_id::text, ch.name, ch.image
FROM cart_combo_children ch
JOIN cart_items it ON it.combo_id = ch.combo_id
WHERE it.cart_id = $1
ORDER BY ch.id`

func (t pgTx) Items(ctx context.Context, cartID string) ([]Item, error) {
	rows, err := t.tx.Query(ctx, listItemsSQL, pgUUID(cartID))
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, err
	}

	rows, err = t.tx.Query(ctx, listChildrenSQL, pgUUID(cartID))
	if err != nil {
		return nil, err
	}
	children, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ComboChild, error) {
		var c ComboChild
		err := row.Scan(&c.ComboID, &c.ProductID, &c.VariationID, &c.Name, &c.Image)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	byCombo := make(map[string][]ComboChild)
	for _, c := range children {
		byCombo[c.ComboID] = append(byCombo[c.ComboID], c)
	}
	for i := range items {
		if items[i].ComboID != nil {
			items[i].Children = byCombo[*items[i].ComboID]
		}
	}
	return items, nil
}

func scanItem(row pgx.CollectableRow) (Item, error) {
	var (
		it                             Item
		regular, unitBefore, unitAfter int64
		lineBefore, lineAfter          int64
		sale, override                 *int64
		offerStatus, productType       string
	)
	err := row.Scan(
		&it.ID, &it.CartID, &it.UserID, &it.ProductID, &it.VariationID,
		&it.VariationName, &it.Referrer, &it.Name, &it.Image, &it.Quantity, &regular, &sale, &override,
		&it.OfferID, &it.IsFlashSale, &it.FlashPending, &it.OfferApplied, &offerStatus,
		&unitBefore, &unitAfter, &lineBefore, &lineAfter,
		&productType, &it.ComboID, &it.Position,
	)
	if err != nil {
		return Item{}, err
	}
	it.RegularPrice = pricing.Money(regular)
	it.SalePrice = moneyPtr(sale)
	it.OverridePrice = moneyPtr(override)
	it.OfferStatus = pricing.OfferStatus(offerStatus)
	it.UnitPriceBefore = pricing.Money(unitBefore)
	it.UnitPriceAfter = pricing.Money(unitAfter)
	it.LineTotalBefore = pricing.Money(lineBefore)
	it.LineTotalAfter = pricing.Money(lineAfter)
	it.ProductType = ProductType(productType)
	return it, nil
}

const insertItemSQL = `INSERT INTO cart_items (
  id, cart_id, user_id, product_id, variation_id, variation_name, referrer, name, image,
  quantity, regular_price, sale_price, override_price, offer_id, is_flash_sale, flash_pending,
  offer_applied, offer_status, unit_price_before, unit_price_after,
  line_total_before, line_total_after, product_type, combo_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
RETURNING position`

func (t pgTx) InsertItem(ctx context.Context, it *Item) error {
	return t.tx.QueryRow(ctx, insertItemSQL,
		pgUUID(it.ID), pgUUID(it.CartID), it.UserID, pgUUID(it.ProductID), pgUUIDPtr(it.VariationID),
		it.VariationName, it.Referrer, it.Name, it.Image,
		it.Quantity, int64(it.RegularPrice), int64Ptr(it.SalePrice), int64Ptr(it.OverridePrice),
		pgUUIDPtr(it.OfferID), it.IsFlashSale, it.FlashPending, it.OfferApplied, string(it.OfferStatus),
		int64(it.UnitPriceBefore), int64(it.UnitPriceAfter), int64(it.LineTotalBefore), int64(it.LineTotalAfter),
		string(it.ProductType), pgUUIDPtr(it.ComboID),
	).Scan(&it.Position)
}

func (t pgTx) InsertComboChildren(ctx context.Context, children []ComboChild) error {
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"cart_combo_children"},
		[]string{"combo_id", "product_id", "variation_id", "name", "image"},
		pgx.CopyFromSlice(len(children), func(i int) ([]any, error) {
			c := children[i]
			return []any{pgUUID(c.ComboID), pgUUID(c.ProductID), pgUUIDPtr(c.VariationID), c.Name, c.Image}, nil
		}),
	)
	return err
}

const updateItemSQL = `UPDATE cart_items SET
  quantity = $2, regular_price = $3, sale_price = $4, name = $5, image = $6,
  variation_name = $7, referrer = $8, offer_id = $9, is_flash_sale = $10,
  offer_applied = $11, offer_status = $12, unit_price_before = $13, unit_price_after = $14,
  line_total_before = $15, line_total_after = $16, flash_pending = $17, updated_at = now()
WHERE id = $1`

func (t pgTx) UpdateItems(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(updateItemSQL,
			pgUUID(it.ID), it.Quantity, int64(it.RegularPrice), int64Ptr(it.SalePrice), it.Name, it.Image,
			it.VariationName, it.Referrer, pgUUIDPtr(it.OfferID), it.IsFlashSale,
			it.OfferApplied, string(it.OfferStatus), int64(it.UnitPriceBefore), int64(it.UnitPriceAfter),
			int64(it.LineTotalBefore), int64(it.LineTotalAfter), it.FlashPending,
		)
	}
	br := t.tx.SendBatch(ctx, batch)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

const deleteItemSQL = `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`

func (t pgTx) DeleteItem(ctx context.Context, cartID, itemID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, deleteItemSQL, pgUUID(itemID), pgUUID(cartID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const saveSummarySQL = `UPDATE carts SET
  subtotal = $2, total = $3, total_discount = $4, estimated_tax = $5, modified = $6, updated_at = now()
WHERE id = $1`

func (t pgTx) SaveSummary(ctx context.Context, cartID string, s Summary, modified bool) error {
	tag, err := t.tx.Exec(ctx, saveSummarySQL, pgUUID(cartID),
		int64(s.Subtotal), int64(s.Total), int64(s.TotalDiscount), int64(s.EstimatedTax), modified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

func pgUUID(value string) pgtype.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDPtr(value *string) pgtype.UUID {
	if value == nil {
		return pgtype.UUID{}
	}
	return pgUUID(*value)
}

func int64Ptr(m *pricing.Money) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}

func moneyPtr(v *int64) *pricing.Money {
	if v == nil {
		return nil
	}
	m := pricing.Money(*v)
	return &m
}
