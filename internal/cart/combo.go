package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/cart-pricing/internal/catalog"
)

// assembleCombo builds a combo parent priced once from the main product's
// current sale or regular price. Children are resolved for display only.
func (s *Service) assembleCombo(ctx context.Context, in AddComboInput) (Item, error) {
	main, err := s.Catalog.Product(ctx, in.MainProductID)
	if err != nil {
		return Item{}, lookupErr(err, ErrProductNotFound, "main product")
	}
	comboID := s.newID()
	children := make([]ComboChild, 0, len(in.Children))
	for _, ref := range in.Children {
		child, err := s.Catalog.Product(ctx, ref.ProductID)
		if err != nil {
			return Item{}, lookupErr(err, ErrProductNotFound, "combo child")
		}
		c := ComboChild{
			ComboID:   comboID,
			ProductID: child.ID,
			Name:      child.Name,
			Image:     child.Image,
		}
		if vid := optString(ref.VariationID); vid != nil {
			v, err := s.Catalog.Variation(ctx, *vid)
			if err != nil {
				return Item{}, lookupErr(err, ErrVariationNotFound, "combo child variation")
			}
			if v.ProductID != child.ID {
				return Item{}, fmt.Errorf("variation %s does not belong to product %s: %w", v.ID, child.ID, ErrInvalidInput)
			}
			c.VariationID = vid
			if name := strings.TrimSpace(v.Name); name != "" {
				c.Name = child.Name + " - " + name
			}
		}
		children = append(children, c)
	}

	unit := main.Prices().Effective()
	line := unit.Times(in.Quantity)
	return Item{
		ID:              s.newID(),
		ProductID:       main.ID,
		Name:            main.Name,
		Image:           main.Image,
		Quantity:        in.Quantity,
		RegularPrice:    main.RegularPrice,
		SalePrice:       main.SalePrice,
		UnitPriceBefore: unit,
		UnitPriceAfter:  unit,
		LineTotalBefore: line,
		LineTotalAfter:  line,
		ProductType:     ProductCombo,
		ComboID:         &comboID,
		Children:        children,
	}, nil
}

// rescaleCombo applies a new quantity to a combo parent, keeping its stored unit prices.
func rescaleCombo(it *Item, qty int) {
	it.Quantity = qty
	it.LineTotalBefore = it.UnitPriceBefore.Times(qty)
	it.LineTotalAfter = it.UnitPriceAfter.Times(qty)
}

func lookupErr(err, notFound error, what string) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, notFound)
	}
	return fmt.Errorf("lookup %s: %w", what, err)
}
