package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
)

// SaveDiscount inserts or replaces a discount code.
func (s *Store) SaveDiscount(ctx context.Context, c discount.Code) error {
	if err := c.CheckShape(); err != nil {
		return err
	}
	row := newDiscountRow(c)
	row.UpdatedAt = s.now()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save discount: %w", err)
	}
	return nil
}

// Discounts adapts the store to discount.Repository.
func (s *Store) Discounts() discount.Repository { return discountRepo{s} }

type discountRepo struct{ s *Store }

func (r discountRepo) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	var row discountRow
	err := r.s.db.WithContext(ctx).Where("code = ?", discount.Normalize(code)).Take(&row).Error
	if isNotFound(err) {
		return nil, discount.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find discount: %w", err)
	}
	return row.toCode(), nil
}

func (r discountRepo) IncrementUsage(ctx context.Context, id string) error {
	res := incrementUsage(r.s.db.WithContext(ctx), id, r.s.now())
	if res.Error != nil {
		return fmt.Errorf("increment discount usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func incrementUsage(db *gorm.DB, id string, now time.Time) *gorm.DB {
	return db.Model(&discountRow{}).Where("id = ?", id).Updates(map[string]any{
		"uses_count": gorm.Expr("uses_count + ?", 1),
		"updated_at": now,
	})
}

// Carts adapts the store to cart.Repository.
func (s *Store) Carts() cart.Repository { return cartRepo{s} }

type cartRepo struct{ s *Store }

func (r cartRepo) AddQuantity(ctx context.Context, userID string, item cart.Item) (cart.Item, error) {
	var out cart.Item
	err := r.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertCartLine(tx, userID, item, r.s.now()).Error; err != nil {
			return err
		}
		var row cartRow
		if err := tx.Where("user_id = ? AND product_id = ?", userID, item.ProductID).Take(&row).Error; err != nil {
			return err
		}
		out = row.toItem()
		return nil
	})
	if err != nil {
		return cart.Item{}, fmt.Errorf("add cart item: %w", err)
	}
	return out, nil
}

func (r cartRepo) MergeItems(ctx context.Context, userID string, items []cart.Item) error {
	now := r.s.now()
	err := r.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			if err := upsertCartLine(tx, userID, it, now).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge cart items: %w", err)
	}
	return nil
}

// upsertCartLine sums quantities in the database so concurrent adds do not lose updates.
func upsertCartLine(db *gorm.DB, userID string, item cart.Item, now time.Time) *gorm.DB {
	row := cartRow{
		UserID:    userID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		Variant:   item.Variant,
		UpdatedAt: now,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", item.Quantity),
			"variant":    item.Variant,
			"updated_at": now,
		}),
	}).Create(&row)
}

func (r cartRepo) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	return r.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&cartRow{}).Where("user_id = ? AND product_id = ?", userID, productID).Count(&n).Error; err != nil {
			return fmt.Errorf("find cart item: %w", err)
		}
		if n == 0 {
			return cart.ErrItemNotFound
		}
		err := tx.Model(&cartRow{}).
			Where("user_id = ? AND product_id = ?", userID, productID).
			Updates(map[string]any{"quantity": quantity, "updated_at": r.s.now()}).Error
		if err != nil {
			return fmt.Errorf("set cart quantity: %w", err)
		}
		return nil
	})
}

func (r cartRepo) Remove(ctx context.Context, userID, productID string) error {
	err := r.s.db.WithContext(ctx).Where("user_id = ? AND product_id = ?", userID, productID).Delete(&cartRow{}).Error
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

func (r cartRepo) Get(ctx context.Context, userID string) ([]cart.Item, error) {
	var rows []cartRow
	if err := r.s.db.WithContext(ctx).Where("user_id = ?", userID).Order("product_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	out := make([]cart.Item, len(rows))
	for i, row := range rows {
		out[i] = row.toItem()
	}
	return out, nil
}

func (r cartRepo) Clear(ctx context.Context, userID string) error {
	if err := r.s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&cartRow{}).Error; err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Prices implements catalog.Source. Inactive products are omitted.
func (s *Store) Prices(ctx context.Context, productIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []productRow
	err := s.db.WithContext(ctx).
		Select("id", "price").
		Where("id IN ? AND active = ?", productIDs, true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load product prices: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.Price
	}
	return out, nil
}

// Idempotency adapts the store to idempotency.Repository. Records older than ttl are
// replaced on the next reservation.
func (s *Store) Idempotency(ttl time.Duration) idempotency.Repository {
	return idempotencyRepo{s: s, ttl: ttl}
}

type idempotencyRepo struct {
	s   *Store
	ttl time.Duration
}

func (r idempotencyRepo) CreateIfNotExists(ctx context.Context, key, fingerprint string) (bool, error) {
	now := r.s.now()
	row := idempotencyRow{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      idempotency.StatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r.ttl > 0 {
		row.ExpiresAt = now.Add(r.ttl).Unix()
	}

	created := false
	err := r.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// expired reservations do not block a new one
		if err := tx.Where("idempotency_key = ? AND expires_at > 0 AND expires_at <= ?", key, now.Unix()).
			Delete(&idempotencyRow{}).Error; err != nil {
			return err
		}
		err := tx.Create(&row).Error
		if isDuplicate(err) {
			return nil
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return created, nil
}

func (r idempotencyRepo) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	var row idempotencyRow
	err := r.s.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&row).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return row.toRecord(), nil
}

func (r idempotencyRepo) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return r.update(ctx, key, map[string]any{
		"status":          idempotency.StatusDone,
		"response_body":   responseBody,
		"response_status": responseStatus,
	})
}

func (r idempotencyRepo) MarkFailed(ctx context.Context, key, note string) error {
	return r.update(ctx, key, map[string]any{
		"status": idempotency.StatusFailed,
		"note":   note,
	})
}

func (r idempotencyRepo) update(ctx context.Context, key string, values map[string]any) error {
	values["updated_at"] = r.s.now()
	err := r.s.db.WithContext(ctx).Model(&idempotencyRow{}).Where("idempotency_key = ?", key).Updates(values).Error
	if err != nil {
		return fmt.Errorf("update idempotency record: %w", err)
	}
	return nil
}
