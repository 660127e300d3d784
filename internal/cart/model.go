package cart

import (
	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// ProductType distinguishes simple lines from combo parents.
type ProductType string

const (
	ProductSimple ProductType = "simple"
	ProductCombo  ProductType = "combo"
)

// Item is one priced cart line or one combo parent.
type Item struct {
	ID            string         `json:"id"`
	CartID        string         `json:"cartId"`
	UserID        string         `json:"uid"`
	ProductID     string         `json:"productId"`
	VariationID   *string        `json:"variationId"`
	VariationName *string        `json:"variationName,omitempty"`
	Referrer      *string        `json:"referrer,omitempty"`
	Name          string         `json:"name"`
	Image         string         `json:"image,omitempty"`
	Quantity      int            `json:"quantity"`
	RegularPrice  pricing.Money  `json:"regularPrice"`
	SalePrice     *pricing.Money `json:"salePrice"`
	OverridePrice *pricing.Money `json:"overridePrice,omitempty"`
	OfferID       *string        `json:"offerId"`
	IsFlashSale   bool           `json:"isFlashSale"`
	// FlashPending marks a line whose flash window could not be checked yet.
	// The cart stays live until a lookup settles it.
	FlashPending bool                `json:"flashPending,omitempty"`
	OfferApplied bool                `json:"offerApplied"`
	OfferStatus  pricing.OfferStatus `json:"offerStatus,omitempty"`

	UnitPriceBefore pricing.Money `json:"unitPriceBefore"`
	// UnitPriceAfter is the rounded mean of the line's units after offers.
	// When an offer prices units of one line differently, LineTotalAfter is
	// authoritative and may differ from UnitPriceAfter times Quantity.
	UnitPriceAfter  pricing.Money `json:"unitPriceAfter"`
	LineTotalBefore pricing.Money `json:"lineTotalBefore"`
	LineTotalAfter  pricing.Money `json:"lineTotalAfter"`

	ProductType ProductType  `json:"productType"`
	ComboID     *string      `json:"comboId,omitempty"`
	Children    []ComboChild `json:"children,omitempty"`
	Position    int64        `json:"-"`
}

// IsCombo reports whether the line is an opaque combo parent.
func (it Item) IsCombo() bool { return it.ProductType == ProductCombo }

func (it Item) sameLine(productID string, variationID *string) bool {
	if it.IsCombo() || it.ProductID != productID {
		return false
	}
	return optEqual(it.VariationID, variationID)
}

// ComboChild is a display-only reference stored with a combo parent.
type ComboChild struct {
	ComboID     string  `json:"comboId"`
	ProductID   string  `json:"productId"`
	VariationID *string `json:"variationId,omitempty"`
	Name        string  `json:"name"`
	Image       string  `json:"image,omitempty"`
}

// Summary is the persisted cart aggregate.
type Summary struct {
	Subtotal      pricing.Money `json:"subtotal"`
	Total         pricing.Money `json:"total"`
	TotalDiscount pricing.Money `json:"totalDiscount"`
	// EstimatedTax is a flat-rate display figure, never included in Total.
	EstimatedTax pricing.Money `json:"estimatedTax"`
}

// Cart is the per-user cart record. Modified marks a stale summary.
type Cart struct {
	ID       string
	UserID   string
	Summary  Summary
	Modified bool
}

// State is the pricing state of a cart.
type State int

const (
	// StateCached serves the persisted summary without recomputation.
	StateCached State = iota
	// StateLive recomputes on the next read.
	StateLive
)

func stateOf(modified bool) State {
	if modified {
		return StateLive
	}
	return StateCached
}

func (s State) String() string {
	if s == StateLive {
		return "live"
	}
	return "cached"
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is the result of GetCart.
type View struct {
	CartID  string  `json:"cartId"`
	Items   []Item  `json:"items"`
	Summary Summary `json:"summary"`
	State   State   `json:"state"`
}

// AddItemInput describes an addToCart request.
type AddItemInput struct {
	ProductID     string
	Quantity      int
	VariationID   *string
	VariationName *string
	Referrer      *string
}

// ComboChildInput references one product bundled in a combo.
type ComboChildInput struct {
	ProductID   string
	VariationID *string
}

// AddComboInput describes an addCombo request.
type AddComboInput struct {
	Quantity      int
	MainProductID string
	Children      []ComboChildInput
}

func optEqual(a, b *string) bool {
	if a == nil || *a == "" {
		return b == nil || *b == ""
	}
	return b != nil && *a == *b
}

func optString(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	s := *v
	return &s
}
