package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/events"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

// MaxLines bounds the number of lines in one order so the header and items fit a single
// store transaction.
const MaxLines = 50

const createAttempts = 3

// PriceLookup resolves authoritative unit prices. Missing ids are omitted from the result.
type PriceLookup interface {
	Prices(ctx context.Context, productIDs []string) (map[string]int64, error)
}

// LineInput is a cart line submitted at checkout.
type LineInput struct {
	ProductID string
	Variant   string
	Quantity  int
	UnitPrice int64 // snapshot taken when the item was added to the cart
}

// PlaceOrderInput is the checkout request after authentication.
type PlaceOrderInput struct {
	UserID       string
	Items        []LineInput
	Address      ShippingAddress
	DiscountCode string
	// ExpectedTotal is the total the client displayed; a mismatch is rejected.
	ExpectedTotal *int64
}

// PlaceOrderResult is returned on success.
type PlaceOrderResult struct {
	OrderID               string `json:"orderId"`
	OrderCode             string `json:"orderCode"`
	Status                string `json:"status"`
	Subtotal              int64  `json:"subtotal"`
	ShippingFee           int64  `json:"shippingFee"`
	DiscountAmount        int64  `json:"discountAmount"`
	Total                 int64  `json:"total"`
	DiscountCode          string `json:"discountCode,omitempty"`
	PerUserLimitUnchecked bool   `json:"-"`
}

// WriterDeps groups the writer's collaborators. Discounts, Prices and Events are optional.
type WriterDeps struct {
	Orders    Repository
	Discounts discount.Repository
	Prices    PriceLookup
	Events    events.Publisher
	Codes     *CodeGenerator
	Shipping  ShippingPolicy
	Timeout   time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

// Writer turns a cart into a persisted PENDING order.
type Writer struct {
	orders    Repository
	discounts discount.Repository
	prices    PriceLookup
	events    events.Publisher
	codes     *CodeGenerator
	shipping  ShippingPolicy
	timeout   time.Duration
	logger    *zap.Logger
	nowFunc   func() time.Time
	newID     func() string
}

// NewWriter wires a Writer.
func NewWriter(deps WriterDeps) *Writer {
	codes := deps.Codes
	if codes == nil {
		codes = NewCodeGenerator()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		orders:    deps.Orders,
		discounts: deps.Discounts,
		prices:    deps.Prices,
		events:    pub,
		codes:     codes,
		shipping:  deps.Shipping,
		timeout:   deps.Timeout,
		logger:    logging.OrNop(deps.Logger),
		nowFunc:   now,
		newID:     func() string { return ulid.Make().String() },
	}
}

// PlaceOrder validates the request, re-derives prices and discount, resolves the address
// and writes the order header with its items in one transaction.
func (w *Writer) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	log := logging.FromContext(ctx, w.logger).With(zap.String("user_id", in.UserID))

	if !in.Address.Complete() {
		return nil, apperr.Validation(apperr.CodeInvalidAddress, "shipping address is incomplete")
	}
	lines, err := normalizeLines(in.Items)
	if err != nil {
		return nil, err
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	items, err := w.priceLines(ctx, lines)
	if err != nil {
		return nil, err
	}
	subtotal, err := LineSubtotal(items)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidItem, "order lines cannot be priced", err)
	}
	shippingFee := w.shipping.Fee(subtotal)

	now := w.nowFunc().UTC()
	applied, err := w.applyDiscount(ctx, in.UserID, in.DiscountCode, subtotal, shippingFee, now)
	if err != nil {
		return nil, err
	}

	totals, err := ComputeTotals(subtotal, shippingFee, applied.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeTotalMismatch, "order totals are inconsistent", err)
	}
	if in.ExpectedTotal != nil && *in.ExpectedTotal != totals.Total {
		return nil, apperr.Conflict(apperr.CodeTotalMismatch, "order total changed, please review your cart").
			WithDetail("expected_total", *in.ExpectedTotal).
			WithDetail("total", totals.Total)
	}

	addressID, err := w.orders.FindOrCreateAddress(ctx, in.UserID, in.Address)
	if err != nil {
		log.Error("resolve shipping address", zap.Error(err))
		return nil, apperr.Persistence(apperr.CodeAddressPersistFailed, "could not save shipping address", err)
	}
	snapshot, err := in.Address.Snapshot()
	if err != nil {
		return nil, apperr.Persistence(apperr.CodeAddressPersistFailed, "could not snapshot shipping address", err)
	}

	order := &Order{
		ID:                      w.newID(),
		UserID:                  in.UserID,
		Status:                  StatusPending,
		Subtotal:                totals.Subtotal,
		DiscountAmount:          totals.DiscountAmount,
		ShippingFee:             totals.ShippingFee,
		Total:                   totals.Total,
		ShippingAddressID:       addressID,
		ShippingAddressSnapshot: snapshot,
		DiscountCodeID:          applied.CodeID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	for i := range items {
		items[i].OrderID = order.ID
		items[i].Line = i + 1
	}

	if err := w.create(ctx, order, items); err != nil {
		log.Error("persist order", zap.Error(err), zap.String("order_code", order.OrderCode))
		return nil, err
	}

	log.Info("order placed",
		zap.String("order_code", order.OrderCode),
		zap.Int64("total", order.Total),
		zap.String("discount_code_id", order.DiscountCodeID))

	if err := w.events.Publish(ctx, events.Event{
		Type:       events.TypeOrderPlaced,
		OrderID:    order.ID,
		OrderCode:  order.OrderCode,
		UserID:     order.UserID,
		Total:      order.Total,
		DiscountID: order.DiscountCodeID,
		OccurredAt: now,
	}); err != nil {
		log.Warn("publish order.placed", zap.Error(err), zap.String("order_code", order.OrderCode))
	}

	return &PlaceOrderResult{
		OrderID:               order.ID,
		OrderCode:             order.OrderCode,
		Status:                order.Status,
		Subtotal:              order.Subtotal,
		ShippingFee:           order.ShippingFee,
		DiscountAmount:        order.DiscountAmount,
		Total:                 order.Total,
		DiscountCode:          applied.Code,
		PerUserLimitUnchecked: applied.PerUserLimitUnchecked,
	}, nil
}

func (w *Writer) create(ctx context.Context, order *Order, items []Item) error {
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		order.OrderCode, err = w.codes.Next()
		if err != nil {
			return apperr.Persistence(apperr.CodeOrderPersistFailed, "could not allocate order code", err)
		}
		err = w.orders.CreateOrder(ctx, order, items)
		if !errors.Is(err, ErrDuplicateOrderCode) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTooManyItems):
		return apperr.Wrap(apperr.KindValidation, apperr.CodeTooManyItems, "too many items in cart", err)
	case errors.Is(err, ErrItemsPersist):
		return apperr.Persistence(apperr.CodeItemsPersistFailed, "could not save order items", err)
	default:
		return apperr.Persistence(apperr.CodeOrderPersistFailed, "could not save order", err)
	}
}

func (w *Writer) priceLines(ctx context.Context, lines []LineInput) ([]Item, error) {
	items := make([]Item, 0, len(lines))
	var prices map[string]int64
	if w.prices != nil {
		ids := make([]string, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ProductID)
		}
		var err error
		prices, err = w.prices.Prices(ctx, ids)
		if err != nil {
			return nil, apperr.Persistence(apperr.CodePriceLookup, "could not load product prices", err)
		}
	}

	for _, l := range lines {
		price := l.UnitPrice
		if prices != nil {
			p, ok := prices[l.ProductID]
			if !ok {
				return nil, apperr.Validation(apperr.CodeInvalidItem, "product is no longer available").
					WithDetail("product_id", l.ProductID)
			}
			price = p
		}
		items = append(items, Item{
			ProductID:   l.ProductID,
			Variant:     l.Variant,
			Quantity:    l.Quantity,
			PriceAtTime: price,
		})
	}
	return items, nil
}

func (w *Writer) applyDiscount(ctx context.Context, userID, code string, subtotal, shippingFee int64, now time.Time) (discount.Result, error) {
	normalized := discount.Normalize(code)
	if normalized == "" {
		return discount.Result{}, nil
	}
	if w.discounts == nil {
		return discount.Result{}, rejected(&discount.Rejection{Reason: discount.ReasonNotFound, Code: normalized})
	}

	dc, err := w.discounts.FindByCode(ctx, normalized)
	if errors.Is(err, discount.ErrNotFound) {
		return discount.Result{}, rejected(&discount.Rejection{Reason: discount.ReasonNotFound, Code: normalized})
	}
	if err != nil {
		return discount.Result{}, apperr.Persistence(apperr.CodeDiscountLookup, "could not load discount code", err)
	}

	input := discount.Input{Subtotal: subtotal, ShippingFee: shippingFee, Now: now}
	if dc.PerUserLimit > 0 {
		used, err := w.orders.CountPaidWithDiscount(ctx, userID, dc.ID)
		if err != nil {
			return discount.Result{}, apperr.Persistence(apperr.CodeDiscountLookup, "could not check discount usage", err)
		}
		input.UserPaidUses = &used
	}

	res, err := discount.Validate(dc, input)
	if err != nil {
		var rej *discount.Rejection
		if errors.As(err, &rej) {
			return discount.Result{}, rejected(rej)
		}
		return discount.Result{}, err
	}
	return res, nil
}

func rejected(rej *discount.Rejection) error {
	return apperr.Wrap(apperr.KindValidation, apperr.CodeDiscountRejected, "discount code cannot be applied", rej).
		WithDetail("reason", string(rej.Reason))
}

// normalizeLines validates lines and merges duplicates of the same product and variant.
func normalizeLines(in []LineInput) ([]LineInput, error) {
	if len(in) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyCart, "cart is empty")
	}
	out := make([]LineInput, 0, len(in))
	index := make(map[[2]string]int, len(in))
	for _, l := range in {
		l.ProductID = strings.TrimSpace(l.ProductID)
		l.Variant = strings.TrimSpace(l.Variant)
		if l.ProductID == "" || l.Quantity < 1 || l.UnitPrice < 0 {
			return nil, apperr.Validation(apperr.CodeInvalidItem, "cart item is invalid").
				WithDetail("product_id", l.ProductID)
		}
		key := [2]string{l.ProductID, l.Variant}
		if i, ok := index[key]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, l)
	}
	if len(out) > MaxLines {
		return nil, apperr.Validation(apperr.CodeTooManyItems, "too many items in cart")
	}
	return out, nil
}
