package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cart-pricing/internal/catalog"
	"github.com/noah-isme/cart-pricing/internal/obs"
)

var (
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariationNotFound indicates the referenced variation does not exist.
	ErrVariationNotFound = errors.New("variation not found")
	// ErrItemNotFound indicates the item is not part of the caller's cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrCartNotFound indicates the user's cart could not be loaded or created.
	ErrCartNotFound = errors.New("cart not found for user")
)

var nopLogger = zerolog.Nop()

// Locker serialises work on one key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Scheduler arranges a reprice of the user's cart at the given time.
type Scheduler interface {
	ScheduleReprice(ctx context.Context, userID string, at time.Time) error
}

// Service prices and persists carts.
type Service struct {
	Store     Store
	Catalog   catalog.Accessor
	Locker    Locker
	LockTTL   time.Duration
	Scheduler Scheduler
	TaxBps    int
	Logger    *zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &nopLogger
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

func (s *Service) newPass(now time.Time) *pass {
	return &pass{catalog: s.Catalog, now: now, taxBps: s.TaxBps, log: s.logger()}
}

func lockKey(uid string) string {
	return "cart:lock:" + uid
}

// withCart runs fn under the per-cart lock inside one transaction holding the
// cart row lock. Nothing fn writes is visible unless it returns nil.
func (s *Service) withCart(ctx context.Context, uid string, fn func(ctx context.Context, tx Tx, c Cart) error) error {
	if s == nil || s.Store == nil || s.Catalog == nil {
		return errors.New("cart service not configured")
	}
	run := func(ctx context.Context) error {
		return s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			c, err := tx.LockCart(ctx, uid)
			if err != nil {
				return fmt.Errorf("lock cart: %w", err)
			}
			if c.ID == "" {
				return ErrCartNotFound
			}
			return fn(ctx, tx, c)
		})
	}
	if s.Locker == nil {
		return run(ctx)
	}
	return s.Locker.WithLock(ctx, lockKey(uid), s.lockTTL(), run)
}

func persist(ctx context.Context, tx Tx, cartID string, res passResult, modified bool) error {
	if len(res.Items) > 0 {
		if err := tx.UpdateItems(ctx, res.Items); err != nil {
			return fmt.Errorf("update items: %w", err)
		}
	}
	if err := tx.SaveSummary(ctx, cartID, res.Summary, modified); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (s *Service) afterPass(ctx context.Context, uid string, res passResult) {
	obs.ObserveFlashReverted(res.Reverted)
	if s.Scheduler == nil || res.FlashEndsAt.IsZero() {
		return
	}
	if err := s.Scheduler.ScheduleReprice(ctx, uid, res.FlashEndsAt); err != nil {
		s.logger().Warn().Err(err).Str("uid", uid).Time("at", res.FlashEndsAt).Msg("schedule cart reprice")
	}
}

// flashState reports whether the product currently sits in a flash sale
// window. known is false when the lookup failed and the window is unknown.
func (s *Service) flashState(ctx context.Context, productID string, now time.Time) (active, known bool) {
	_, err := s.Catalog.ActiveFlashSale(ctx, productID, now)
	switch {
	case err == nil:
		return true, true
	case errors.Is(err, catalog.ErrNotFound):
		return false, true
	default:
		s.logger().Warn().Err(err).Str("product_id", productID).Msg("flash sale lookup failed")
		return false, false
	}
}

func startSpan(ctx context.Context, name, uid string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("cart.Service").Start(ctx, "CartService."+name)
	span.SetAttributes(attribute.String("cart.uid", uid))
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddToCart adds quantity of a product (optionally a variation) to the user's
// cart. An existing line for the same product and variation is merged.
func (s *Service) AddToCart(ctx context.Context, uid string, in AddItemInput) (item Item, summary Summary, err error) {
	ctx, span := startSpan(ctx, "AddToCart", uid)
	defer func() { endSpan(span, err) }()

	uid = strings.TrimSpace(uid)
	in.ProductID = strings.TrimSpace(in.ProductID)
	if uid == "" || in.ProductID == "" {
		return Item{}, Summary{}, fmt.Errorf("uid and productId are required: %w", ErrInvalidInput)
	}
	if in.Quantity < 1 {
		return Item{}, Summary{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if s == nil || s.Catalog == nil {
		return Item{}, Summary{}, errors.New("cart service not configured")
	}

	product, err := s.Catalog.Product(ctx, in.ProductID)
	if err != nil {
		return Item{}, Summary{}, lookupErr(err, ErrProductNotFound, "product")
	}
	variationID := optString(in.VariationID)
	if variationID != nil {
		v, err := s.Catalog.Variation(ctx, *variationID)
		if err != nil {
			return Item{}, Summary{}, lookupErr(err, ErrVariationNotFound, "variation")
		}
		if v.ProductID != product.ID {
			return Item{}, Summary{}, fmt.Errorf("variation %s does not belong to product %s: %w", v.ID, product.ID, ErrInvalidInput)
		}
	}
	now := s.now()
	flash, flashKnown := s.flashState(ctx, product.ID, now)

	var res passResult
	err = s.withCart(ctx, uid, func(ctx context.Context, tx Tx, c Cart) error {
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		idx := -1
		for i := range items {
			if items[i].sameLine(product.ID, variationID) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			it := &items[idx]
			it.Quantity += in.Quantity
			switch {
			case flashKnown:
				it.IsFlashSale = flash
				it.FlashPending = false
			case !it.IsFlashSale:
				it.FlashPending = true
			}
			it.OfferID = product.OfferID
			if v := optString(in.VariationName); v != nil {
				it.VariationName = v
			}
			if r := optString(in.Referrer); r != nil {
				it.Referrer = r
			}
		} else {
			it := Item{
				ID:            s.newID(),
				CartID:        c.ID,
				UserID:        uid,
				ProductID:     product.ID,
				VariationID:   variationID,
				VariationName: optString(in.VariationName),
				Referrer:      optString(in.Referrer),
				Name:          product.Name,
				Image:         product.Image,
				Quantity:      in.Quantity,
				RegularPrice:  product.RegularPrice,
				SalePrice:     product.SalePrice,
				OfferID:       product.OfferID,
				IsFlashSale:   flash,
				FlashPending:  !flashKnown,
				ProductType:   ProductSimple,
			}
			if err := tx.InsertItem(ctx, &it); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
			items = append(items, it)
			idx = len(items) - 1
		}

		res = s.newPass(now).run(ctx, items)
		if err := persist(ctx, tx, c.ID, res, true); err != nil {
			return err
		}
		item = res.Items[idx]
		summary = res.Summary
		return nil
	})
	if err != nil {
		return Item{}, Summary{}, err
	}
	obs.ObserveCartRecompute("mutation")
	s.afterPass(ctx, uid, res)
	return item, summary, nil
}

// AddCombo inserts a combo parent and its display-only children atomically.
func (s *Service) AddCombo(ctx context.Context, uid string, in AddComboInput) (item Item, summary Summary, err error) {
	ctx, span := startSpan(ctx, "AddCombo", uid)
	defer func() { endSpan(span, err) }()

	uid = strings.TrimSpace(uid)
	in.MainProductID = strings.TrimSpace(in.MainProductID)
	if uid == "" || in.MainProductID == "" {
		return Item{}, Summary{}, fmt.Errorf("uid and mainProductId are required: %w", ErrInvalidInput)
	}
	if in.Quantity < 1 {
		return Item{}, Summary{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	for _, ch := range in.Children {
		if strings.TrimSpace(ch.ProductID) == "" {
			return Item{}, Summary{}, fmt.Errorf("combo child productId is required: %w", ErrInvalidInput)
		}
	}
	if s == nil || s.Catalog == nil {
		return Item{}, Summary{}, errors.New("cart service not configured")
	}

	combo, err := s.assembleCombo(ctx, in)
	if err != nil {
		return Item{}, Summary{}, err
	}
	now := s.now()

	var res passResult
	err = s.withCart(ctx, uid, func(ctx context.Context, tx Tx, c Cart) error {
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		combo.CartID = c.ID
		combo.UserID = uid
		if err := tx.InsertItem(ctx, &combo); err != nil {
			return fmt.Errorf("insert combo: %w", err)
		}
		if len(combo.Children) > 0 {
			if err := tx.InsertComboChildren(ctx, combo.Children); err != nil {
				return fmt.Errorf("insert combo children: %w", err)
			}
		}
		items = append(items, combo)

		res = s.newPass(now).run(ctx, items)
		if err := persist(ctx, tx, c.ID, res, true); err != nil {
			return err
		}
		item = res.Items[len(items)-1]
		summary = res.Summary
		return nil
	})
	if err != nil {
		return Item{}, Summary{}, err
	}
	obs.ObserveCartRecompute("mutation")
	s.afterPass(ctx, uid, res)
	return item, summary, nil
}

// GetCart returns the user's cart. An unmodified cart is served from the
// persisted snapshot; otherwise every line is repriced and the result stored.
func (s *Service) GetCart(ctx context.Context, uid string) (view View, err error) {
	ctx, span := startSpan(ctx, "GetCart", uid)
	defer func() { endSpan(span, err) }()

	uid = strings.TrimSpace(uid)
	if uid == "" {
		return View{}, fmt.Errorf("uid is required: %w", ErrInvalidInput)
	}

	var (
		res  passResult
		slow bool
	)
	err = s.withCart(ctx, uid, func(ctx context.Context, tx Tx, c Cart) error {
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if !c.Modified {
			view = View{CartID: c.ID, Items: items, Summary: c.Summary, State: StateCached}
			return nil
		}
		slow = true
		res = s.newPass(s.now()).run(ctx, items)
		if err := persist(ctx, tx, c.ID, res, res.Live); err != nil {
			return err
		}
		view = View{CartID: c.ID, Items: res.Items, Summary: res.Summary, State: stateOf(res.Live)}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	if view.Items == nil {
		view.Items = []Item{}
	}
	if !slow {
		span.SetAttributes(attribute.String("cart.path", "fast"))
		obs.ObserveCartRecompute("fast")
		return view, nil
	}
	span.SetAttributes(attribute.String("cart.path", "slow"))
	obs.ObserveCartRecompute("slow")
	s.afterPass(ctx, uid, res)
	return view, nil
}

// RemoveItem deletes a line from the caller's cart and reprices the rest.
func (s *Service) RemoveItem(ctx context.Context, uid, itemID string) (summary Summary, err error) {
	ctx, span := startSpan(ctx, "RemoveItem", uid)
	defer func() { endSpan(span, err) }()

	uid = strings.TrimSpace(uid)
	itemID = strings.TrimSpace(itemID)
	if uid == "" || itemID == "" {
		return Summary{}, fmt.Errorf("uid and itemId are required: %w", ErrInvalidInput)
	}

	var res passResult
	err = s.withCart(ctx, uid, func(ctx context.Context, tx Tx, c Cart) error {
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		idx := indexOf(items, itemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		ok, err := tx.DeleteItem(ctx, c.ID, itemID)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if !ok {
			return ErrItemNotFound
		}
		remaining := append(items[:idx:idx], items[idx+1:]...)

		res = s.newPass(s.now()).run(ctx, remaining)
		if err := persist(ctx, tx, c.ID, res, true); err != nil {
			return err
		}
		summary = res.Summary
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	obs.ObserveCartRecompute("mutation")
	s.afterPass(ctx, uid, res)
	return summary, nil
}

// UpdateQuantity sets the absolute quantity of a line. Combo parents keep their
// stored unit prices and only their line totals scale.
func (s *Service) UpdateQuantity(ctx context.Context, uid, itemID string, qty int) (item Item, summary Summary, err error) {
	ctx, span := startSpan(ctx, "UpdateQuantity", uid)
	defer func() { endSpan(span, err) }()

	uid = strings.TrimSpace(uid)
	itemID = strings.TrimSpace(itemID)
	if uid == "" || itemID == "" {
		return Item{}, Summary{}, fmt.Errorf("uid and itemId are required: %w", ErrInvalidInput)
	}
	if qty < 1 {
		return Item{}, Summary{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}

	var res passResult
	err = s.withCart(ctx, uid, func(ctx context.Context, tx Tx, c Cart) error {
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		idx := indexOf(items, itemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		if items[idx].IsCombo() {
			rescaleCombo(&items[idx], qty)
		} else {
			items[idx].Quantity = qty
		}

		res = s.newPass(s.now()).run(ctx, items)
		if err := persist(ctx, tx, c.ID, res, true); err != nil {
			return err
		}
		item = res.Items[idx]
		summary = res.Summary
		return nil
	})
	if err != nil {
		return Item{}, Summary{}, err
	}
	obs.ObserveCartRecompute("mutation")
	s.afterPass(ctx, uid, res)
	return item, summary, nil
}

func indexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Reprice runs GetCart for its side effects. Background jobs use it to revert
// flash pricing once a window has closed.
func (s *Service) Reprice(ctx context.Context, uid string) error {
	_, err := s.GetCart(ctx, uid)
	return err
}
