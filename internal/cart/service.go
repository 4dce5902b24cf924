package cart

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

// Service is the server-side cart. It satisfies Remote so a Session can drive it directly.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService returns a Service over repo.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logging.OrNop(logger)}
}

// Get returns the user's cart lines.
func (s *Service) Get(ctx context.Context, userID string) ([]Item, error) {
	items, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, persistErr("load cart", err)
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// AddItem adds to an existing line's quantity or creates the line.
func (s *Service) AddItem(ctx context.Context, userID string, item Item) (Item, error) {
	item.ProductID = strings.TrimSpace(item.ProductID)
	if err := item.Valid(); err != nil {
		return Item{}, invalidItem(item.ProductID)
	}
	stored, err := s.repo.AddQuantity(ctx, userID, item)
	if err != nil {
		return Item{}, persistErr("add cart item", err)
	}
	return stored, nil
}

// SetQuantity overwrites a line's quantity; zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	switch {
	case quantity < 0:
		return invalidItem(productID)
	case quantity == 0:
		return s.RemoveItem(ctx, userID, productID)
	}
	err := s.repo.SetQuantity(ctx, userID, productID, quantity)
	if errors.Is(err, ErrItemNotFound) {
		return apperr.NotFound(apperr.CodeInvalidItem, "item is not in the cart").WithDetail("product_id", productID)
	}
	if err != nil {
		return persistErr("update cart item", err)
	}
	return nil
}

// RemoveItem deletes a line. Removing an absent line succeeds.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	if err := s.repo.Remove(ctx, userID, productID); err != nil && !errors.Is(err, ErrItemNotFound) {
		return persistErr("remove cart item", err)
	}
	return nil
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		return persistErr("clear cart", err)
	}
	return nil
}

// MaxMergeLines caps a single merge; DynamoDB transactions take at most 100 writes.
const MaxMergeLines = 100

// Merge adds every guest line to the server cart, summing quantities with existing lines,
// and returns the resulting server cart. Either all lines land or none do, so a failed
// merge can be retried without double counting.
func (s *Service) Merge(ctx context.Context, userID string, items []Item) ([]Item, error) {
	cleaned := make([]Item, len(items))
	for i, it := range items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		if err := it.Valid(); err != nil {
			return nil, invalidItem(it.ProductID)
		}
		cleaned[i] = it
	}
	if lines := mergeLines(cleaned); len(lines) > 0 {
		if len(lines) > MaxMergeLines {
			return nil, apperr.Validation(apperr.CodeTooManyItems, "guest cart has too many lines to merge").
				WithDetail("lines", len(lines))
		}
		if err := s.repo.MergeItems(ctx, userID, lines); err != nil {
			return nil, persistErr("merge cart", err)
		}
	}
	merged, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Info("cart merged",
		zap.String("user_id", userID),
		zap.Int("guest_lines", len(items)),
		zap.Int("server_lines", len(merged)))
	return merged, nil
}

func invalidItem(productID string) error {
	return apperr.Validation(apperr.CodeInvalidItem, "cart item is invalid").WithDetail("product_id", productID)
}

func persistErr(msg string, err error) error {
	return apperr.Persistence(apperr.CodeCartPersistFailed, "could not "+msg, err)
}
