// Package memory is an in-process implementation of every checkout repository, used for
// local runs (store.driver=memory) and service-level tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
)

// Fault points accepted by SetFault.
const (
	FaultAddress       = "address"
	FaultOrderHeader   = "order.header"
	FaultOrderItem     = "order.item"
	FaultStatusUpdate  = "order.status"
	FaultFindOrder     = "order.find"
	FaultCountPaid     = "order.count_paid"
	FaultDiscountFind  = "discount.find"
	FaultDiscountIncr  = "discount.increment"
	FaultCartWrite     = "cart.write"
	FaultCatalogLookup = "catalog.prices"
)

type addressKey struct {
	userID string
	tuple  [5]string
}

// Store holds all data behind one mutex so multi-row writes are atomic.
type Store struct {
	mu sync.Mutex

	addresses map[addressKey]string
	orders    map[string]orders.Order // by order code
	items     map[string][]orders.Item
	discounts map[string]discount.Code // by id
	carts     map[string]map[string]cart.Item
	prices    map[string]int64
	faults    map[string]error

	// itemFailAt makes CreateOrder fail on the given 1-based line when FaultOrderItem is set.
	itemFailAt int
	nowFunc    func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		addresses: map[addressKey]string{},
		orders:    map[string]orders.Order{},
		items:     map[string][]orders.Item{},
		discounts: map[string]discount.Code{},
		carts:     map[string]map[string]cart.Item{},
		prices:    map[string]int64{},
		faults:    map[string]error{},
		nowFunc:   time.Now,
	}
}

// SetFault makes the named operation fail with err until cleared with a nil err.
func (s *Store) SetFault(point string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, point)
		return
	}
	s.faults[point] = err
}

// FailItemAt makes FaultOrderItem trigger on the given line instead of the first.
func (s *Store) FailItemAt(line int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemFailAt = line
}

func (s *Store) fault(point string) error {
	return s.faults[point]
}

// FindOrCreateAddress implements orders.Repository.
func (s *Store) FindOrCreateAddress(_ context.Context, userID string, addr orders.ShippingAddress) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(FaultAddress); err != nil {
		return "", err
	}
	k := addressKey{userID: userID, tuple: addr.Tuple()}
	if id, ok := s.addresses[k]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.addresses[k] = id
	return id, nil
}

// AddressCount returns how many addresses are stored for userID.
func (s *Store) AddressCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.addresses {
		if k.userID == userID {
			n++
		}
	}
	return n
}

// CreateOrder implements orders.Repository. Nothing is stored unless every row succeeds.
func (s *Store) CreateOrder(ctx context.Context, order *orders.Order, items []orders.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fault(FaultOrderHeader); err != nil {
		return err
	}
	if _, exists := s.orders[order.OrderCode]; exists {
		return orders.ErrDuplicateOrderCode
	}
	if err := s.fault(FaultOrderItem); err != nil {
		failAt := s.itemFailAt
		if failAt <= 0 {
			failAt = 1
		}
		if failAt <= len(items) {
			return errors.Join(orders.ErrItemsPersist, err)
		}
	}
	s.orders[order.OrderCode] = *order
	cp := make([]orders.Item, len(items))
	copy(cp, items)
	s.items[order.ID] = cp
	return nil
}

// FindByCode implements orders.Repository.
func (s *Store) FindByCode(_ context.Context, orderCode string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(FaultFindOrder); err != nil {
		return nil, err
	}
	o, ok := s.orders[orderCode]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

// ListItems implements orders.Repository.
func (s *Store) ListItems(_ context.Context, orderID string) ([]orders.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]orders.Item(nil), s.items[orderID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].Line < items[j].Line })
	return items, nil
}

// ConditionalUpdateStatus implements orders.Repository.
func (s *Store) ConditionalUpdateStatus(_ context.Context, orderCode string, upd orders.StatusUpdate) (bool, *orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(FaultStatusUpdate); err != nil {
		return false, nil, err
	}
	o, ok := s.orders[orderCode]
	if !ok || orders.IsTerminal(o.Status) {
		return false, nil, nil
	}
	o.Status = upd.Status
	o.UpdatedAt = upd.UpdatedAt
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.nowFunc().UTC()
	}
	if upd.PaymentLinkID != "" {
		o.PaymentLinkID = upd.PaymentLinkID
	}
	if upd.PaidAt != nil {
		t := *upd.PaidAt
		o.PaidAt = &t
	}
	s.orders[orderCode] = o
	return true, &o, nil
}

// CountPaidWithDiscount implements orders.Repository.
func (s *Store) CountPaidWithDiscount(_ context.Context, userID, discountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(FaultCountPaid); err != nil {
		return 0, err
	}
	var n int64
	for _, o := range s.orders {
		if o.UserID == userID && o.DiscountCodeID == discountID && o.Status == orders.StatusPaid {
			n++
		}
	}
	return n, nil
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// SaveDiscount stores c with its code normalised.
func (s *Store) SaveDiscount(c discount.Code) error {
	if err := c.CheckShape(); err != nil {
		return err
	}
	c.Code = discount.Normalize(c.Code)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[c.ID] = c
	return nil
}

// Discounts adapts the store to discount.Repository.
func (s *Store) Discounts() discount.Repository { return discountRepo{s} }

type discountRepo struct{ s *Store }

func (r discountRepo) FindByCode(_ context.Context, code string) (*discount.Code, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultDiscountFind); err != nil {
		return nil, err
	}
	code = discount.Normalize(code)
	for _, c := range r.s.discounts {
		if c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (r discountRepo) IncrementUsage(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultDiscountIncr); err != nil {
		return err
	}
	c, ok := r.s.discounts[id]
	if !ok {
		return discount.ErrNotFound
	}
	c.UsesCount++
	r.s.discounts[id] = c
	return nil
}

// Carts adapts the store to cart.Repository.
func (s *Store) Carts() cart.Repository { return cartRepo{s} }

type cartRepo struct{ s *Store }

func (r cartRepo) AddQuantity(_ context.Context, userID string, item cart.Item) (cart.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultCartWrite); err != nil {
		return cart.Item{}, err
	}
	lines := r.s.carts[userID]
	if lines == nil {
		lines = map[string]cart.Item{}
		r.s.carts[userID] = lines
	}
	if cur, ok := lines[item.ProductID]; ok {
		cur.Quantity += item.Quantity
		cur.Variant = item.Variant
		lines[item.ProductID] = cur
		return cur, nil
	}
	lines[item.ProductID] = item
	return item, nil
}

func (r cartRepo) MergeItems(_ context.Context, userID string, items []cart.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultCartWrite); err != nil {
		return err
	}
	lines := r.s.carts[userID]
	if lines == nil {
		lines = map[string]cart.Item{}
		r.s.carts[userID] = lines
	}
	for _, it := range items {
		if cur, ok := lines[it.ProductID]; ok {
			cur.Quantity += it.Quantity
			cur.Variant = it.Variant
			lines[it.ProductID] = cur
			continue
		}
		lines[it.ProductID] = it
	}
	return nil
}

func (r cartRepo) SetQuantity(_ context.Context, userID, productID string, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultCartWrite); err != nil {
		return err
	}
	cur, ok := r.s.carts[userID][productID]
	if !ok {
		return cart.ErrItemNotFound
	}
	cur.Quantity = quantity
	r.s.carts[userID][productID] = cur
	return nil
}

func (r cartRepo) Remove(_ context.Context, userID, productID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultCartWrite); err != nil {
		return err
	}
	delete(r.s.carts[userID], productID)
	return nil
}

func (r cartRepo) Get(_ context.Context, userID string) ([]cart.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]cart.Item, 0, len(r.s.carts[userID]))
	for _, it := range r.s.carts[userID] {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r cartRepo) Clear(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(FaultCartWrite); err != nil {
		return err
	}
	delete(r.s.carts, userID)
	return nil
}

// SetPrice records the catalog price of a product.
func (s *Store) SetPrice(productID string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[productID] = price
}

// Prices implements catalog.Source.
func (s *Store) Prices(_ context.Context, productIDs []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(FaultCatalogLookup); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Discount returns the stored discount by id.
func (s *Store) Discount(id string) (discount.Code, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.discounts[id]
	return c, ok
}
