// Package cart holds the guest and server carts and the login-time merge between them.
package cart

import (
	"context"
	"errors"
	"strings"
)

// Item is one cart line. UnitPrice is the price shown when the item was added; checkout
// re-prices from the catalog.
type Item struct {
	ProductID string `json:"productId" dynamodbav:"product_id"`
	Quantity  int    `json:"quantity" dynamodbav:"quantity"`
	UnitPrice int64  `json:"unitPrice" dynamodbav:"unit_price"`
	Variant   string `json:"variant,omitempty" dynamodbav:"variant,omitempty"`
}

var (
	// ErrItemNotFound is returned when a line does not exist in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidItem is returned for blank product ids, non-positive quantities or
	// negative prices.
	ErrInvalidItem = errors.New("invalid cart item")
)

// Valid checks the line invariants.
func (i Item) Valid() error {
	if strings.TrimSpace(i.ProductID) == "" || i.Quantity < 1 || i.UnitPrice < 0 {
		return ErrInvalidItem
	}
	return nil
}

// Repository persists server carts. One cart exists per user and one line per product.
type Repository interface {
	// AddQuantity adds item.Quantity to the existing line atomically, creating it when
	// absent, and returns the stored line.
	AddQuantity(ctx context.Context, userID string, item Item) (Item, error)
	// MergeItems adds every line's quantity in one all-or-nothing write. Lines must have
	// distinct product ids.
	MergeItems(ctx context.Context, userID string, items []Item) error
	// SetQuantity overwrites the quantity of an existing line.
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
	Get(ctx context.Context, userID string) ([]Item, error)
	Clear(ctx context.Context, userID string) error
}

// mergeLines sums quantities of duplicate products, keeping the first price and variant.
func mergeLines(items []Item) []Item {
	out := make([]Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
