package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/imrishuroy/storefront-checkout/internal/orders"
)

// FindOrCreateAddress implements orders.Repository. The unique (user_id, address_key)
// index makes concurrent creators converge on one row.
func (s *Store) FindOrCreateAddress(ctx context.Context, userID string, addr orders.ShippingAddress) (string, error) {
	db := s.db.WithContext(ctx)
	key := addr.Key()

	id, err := findAddressID(db, userID, key)
	if err == nil {
		return id, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("find address: %w", err)
	}

	row := newAddressRow(s.newID(), userID, addr, s.now())
	if err := db.Create(&row).Error; err != nil {
		if isDuplicate(err) {
			if id, err := findAddressID(db, userID, key); err == nil {
				return id, nil
			}
		}
		return "", fmt.Errorf("create address: %w", err)
	}
	return row.ID, nil
}

func findAddressID(db *gorm.DB, userID, key string) (string, error) {
	var row addressRow
	err := db.Select("id").Where("user_id = ? AND address_key = ?", userID, key).Take(&row).Error
	return row.ID, err
}

// CreateOrder implements orders.Repository: header and items commit together.
func (s *Store) CreateOrder(ctx context.Context, order *orders.Order, items []orders.Item) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertOrder(tx, order, items)
	})
}

func insertOrder(tx *gorm.DB, order *orders.Order, items []orders.Item) error {
	header := newOrderRow(order)
	if err := tx.Create(&header).Error; err != nil {
		if isDuplicate(err) {
			return orders.ErrDuplicateOrderCode
		}
		return fmt.Errorf("insert order: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([]orderItemRow, len(items))
	for i, it := range items {
		rows[i] = orderItemRow{
			OrderID:     order.ID,
			Line:        it.Line,
			ProductID:   it.ProductID,
			Variant:     it.Variant,
			Quantity:    it.Quantity,
			PriceAtTime: it.PriceAtTime,
		}
	}
	if err := tx.Create(&rows).Error; err != nil {
		return errors.Join(orders.ErrItemsPersist, err)
	}
	return nil
}

// FindByCode implements orders.Repository.
func (s *Store) FindByCode(ctx context.Context, orderCode string) (*orders.Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).Where("order_code = ?", orderCode).Take(&row).Error
	if isNotFound(err) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return row.toOrder(), nil
}

// ListItems implements orders.Repository.
func (s *Store) ListItems(ctx context.Context, orderID string) ([]orders.Item, error) {
	var rows []orderItemRow
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("line").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	out := make([]orders.Item, len(rows))
	for i, r := range rows {
		out[i] = orders.Item{
			OrderID:     r.OrderID,
			Line:        r.Line,
			ProductID:   r.ProductID,
			Variant:     r.Variant,
			Quantity:    r.Quantity,
			PriceAtTime: r.PriceAtTime,
		}
	}
	return out, nil
}

// ConditionalUpdateStatus implements orders.Repository with a guarded UPDATE. The row is
// re-read in the same transaction so the caller sees exactly what this call wrote.
func (s *Store) ConditionalUpdateStatus(ctx context.Context, orderCode string, upd orders.StatusUpdate) (bool, *orders.Order, error) {
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = s.now()
	}
	var (
		matched bool
		out     *orders.Order
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := statusUpdate(tx, orderCode, upd)
		if res.Error != nil {
			return fmt.Errorf("update order status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		var row orderRow
		if err := tx.Where("order_code = ?", orderCode).Take(&row).Error; err != nil {
			return fmt.Errorf("reload order: %w", err)
		}
		matched, out = true, row.toOrder()
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return matched, out, nil
}

func statusUpdate(tx *gorm.DB, orderCode string, upd orders.StatusUpdate) *gorm.DB {
	values := map[string]any{
		"status":     upd.Status,
		"updated_at": upd.UpdatedAt,
	}
	if upd.PaymentLinkID != "" {
		values["payment_link_id"] = upd.PaymentLinkID
	}
	if upd.PaidAt != nil {
		values["paid_at"] = *upd.PaidAt
	}
	return tx.Model(&orderRow{}).
		Where("order_code = ? AND status IN ?", orderCode, orders.NonTerminalStatuses).
		Updates(values)
}

// CountPaidWithDiscount implements orders.Repository.
func (s *Store) CountPaidWithDiscount(ctx context.Context, userID, discountID string) (int64, error) {
	var n int64
	err := paidWithDiscount(s.db.WithContext(ctx), userID, discountID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count paid orders: %w", err)
	}
	return n, nil
}

func paidWithDiscount(db *gorm.DB, userID, discountID string) *gorm.DB {
	return db.Model(&orderRow{}).
		Where("user_id = ? AND discount_code_id = ? AND status = ?", userID, discountID, orders.StatusPaid)
}
