package cart

import "context"

// Store opens per-cart transactions.
type Store interface {
	// InTx runs fn inside one transaction. Returning an error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the persistence surface available inside a cart transaction.
type Tx interface {
	// LockCart loads the user's cart, creating it when absent, and holds a row
	// lock on it until the transaction ends.
	LockCart(ctx context.Context, userID string) (Cart, error)
	// Items lists the cart lines in insertion order with combo children attached.
	Items(ctx context.Context, cartID string) ([]Item, error)
	// InsertItem stores a new line and sets its Position.
	InsertItem(ctx context.Context, item *Item) error
	InsertComboChildren(ctx context.Context, children []ComboChild) error
	// UpdateItems writes back quantity and every pricing attribute of the lines.
	UpdateItems(ctx context.Context, items []Item) error
	// DeleteItem removes a line of the cart and reports whether it existed.
	DeleteItem(ctx context.Context, cartID, itemID string) (bool, error)
	// SaveSummary persists the aggregate and the modified flag.
	SaveSummary(ctx context.Context, cartID string, summary Summary, modified bool) error
}
