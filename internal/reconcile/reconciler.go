// Package reconcile applies payment gateway webhooks to orders exactly once.
package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/events"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
)

// StatusIgnored is reported for webhooks that reference no known order.
const StatusIgnored = "IGNORED"

// Metric names.
const (
	MetricApplied           = "WebhookApplied"
	MetricDuplicate         = "WebhookDuplicate"
	MetricRejected          = "WebhookRejected"
	MetricIgnored           = "WebhookIgnored"
	MetricIncrementFailures = "DiscountIncrementFailed"
)

const incrementAttempts = 3

// Counter records metrics; *aws.Metrics satisfies it.
type Counter interface {
	Count(ctx context.Context, name string, dimensions map[string]string) error
}

// OrderStore is the part of orders.Repository the reconciler uses.
type OrderStore interface {
	FindByCode(ctx context.Context, orderCode string) (*orders.Order, error)
	ConditionalUpdateStatus(ctx context.Context, orderCode string, upd orders.StatusUpdate) (bool, *orders.Order, error)
}

// Result is acknowledged to the gateway as {ok, orderCode, status}.
type Result struct {
	OK        bool   `json:"ok"`
	OrderCode string `json:"orderCode"`
	Status    string `json:"status"`
	// Applied is true only for the delivery that moved the order.
	Applied bool `json:"-"`
}

// Deps groups the reconciler's collaborators. Discounts, Events and Metrics are optional.
type Deps struct {
	Orders      OrderStore
	Discounts   discount.Repository
	Events      events.Publisher
	Metrics     Counter
	ChecksumKey string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Reconciler verifies webhooks and performs the guarded status transition.
type Reconciler struct {
	orders      OrderStore
	discounts   discount.Repository
	events      events.Publisher
	metrics     Counter
	checksumKey string
	logger      *zap.Logger
	nowFunc     func() time.Time
}

// New wires a Reconciler.
func New(deps Deps) *Reconciler {
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		orders:      deps.Orders,
		discounts:   deps.Discounts,
		events:      pub,
		metrics:     deps.Metrics,
		checksumKey: deps.ChecksumKey,
		logger:      logging.OrNop(deps.Logger),
		nowFunc:     now,
	}
}

// Handle processes one webhook delivery. Duplicates succeed without side effects.
// Signature failures are KindAuth; store failures are KindPersistence so the gateway
// retries them.
func (r *Reconciler) Handle(ctx context.Context, body []byte) (*Result, error) {
	log := logging.FromContext(ctx, r.logger)

	hook, err := payments.ParseWebhook(body)
	if err != nil {
		r.count(ctx, MetricRejected, "invalid_payload")
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidPayload, "webhook data and signature are required", err)
	}
	if !payments.VerifyWebhookData(r.checksumKey, hook.Data, hook.Signature) {
		r.count(ctx, MetricRejected, "signature")
		log.Warn("webhook signature mismatch")
		return nil, apperr.New(apperr.KindAuth, apperr.CodeSignatureMismatch, "invalid webhook signature")
	}

	fields := hook.Fields()
	code, err := orders.CanonicalCode(fields.OrderCode)
	if err != nil {
		r.count(ctx, MetricRejected, "order_code")
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidOrderCode, "webhook order code is invalid", err)
	}
	log = log.With(zap.String("order_code", code), zap.String("payment_link_id", fields.PaymentLinkID))

	now := r.nowFunc().UTC()
	upd := orders.StatusUpdate{
		Status:        orders.StatusFailed,
		PaymentLinkID: fields.PaymentLinkID,
		UpdatedAt:     now,
	}
	if hook.Succeeded() {
		upd.Status = orders.StatusPaid
		upd.PaidAt = &now
	}

	matched, order, err := r.orders.ConditionalUpdateStatus(ctx, code, upd)
	if err != nil && !matched {
		log.Error("webhook status update", zap.Error(err))
		return nil, apperr.Persistence(apperr.CodeReconcileFailed, "could not update order", err)
	}
	if matched && order == nil {
		// committed, so a retry would match nothing: recover the row here
		log.Warn("status updated without the new row", zap.Error(err))
		if order, err = r.orders.FindByCode(ctx, code); err != nil {
			log.Error("reload order after status update, discount usage not recorded", zap.Error(err))
			order = &orders.Order{OrderCode: code, Status: upd.Status}
		}
	}

	if !matched {
		current, err := r.orders.FindByCode(ctx, code)
		if errors.Is(err, orders.ErrNotFound) {
			r.count(ctx, MetricIgnored, "")
			log.Info("webhook for unknown order ignored")
			return &Result{OK: true, OrderCode: code, Status: StatusIgnored}, nil
		}
		if err != nil {
			log.Error("webhook order lookup", zap.Error(err))
			return nil, apperr.Persistence(apperr.CodeReconcileFailed, "could not load order", err)
		}
		r.count(ctx, MetricDuplicate, current.Status)
		log.Info("webhook already applied", zap.String("status", current.Status))
		return &Result{OK: true, OrderCode: code, Status: current.Status}, nil
	}

	if upd.Status == orders.StatusPaid && fields.Amount != 0 && fields.Amount != order.Total {
		log.Warn("webhook amount differs from order total",
			zap.Int64("amount", fields.Amount), zap.Int64("total", order.Total))
	}

	if upd.Status == orders.StatusPaid && order.DiscountCodeID != "" {
		r.incrementDiscount(ctx, log, order.DiscountCodeID)
	}

	evtType := events.TypeOrderFailed
	if upd.Status == orders.StatusPaid {
		evtType = events.TypeOrderPaid
	}
	if err := r.events.Publish(ctx, events.Event{
		Type:       evtType,
		OrderID:    order.ID,
		OrderCode:  order.OrderCode,
		UserID:     order.UserID,
		Total:      order.Total,
		DiscountID: order.DiscountCodeID,
		OccurredAt: now,
	}); err != nil {
		log.Warn("publish payment event", zap.Error(err), zap.String("type", evtType))
	}

	r.count(ctx, MetricApplied, upd.Status)
	log.Info("webhook applied", zap.String("status", upd.Status))
	return &Result{OK: true, OrderCode: code, Status: upd.Status, Applied: true}, nil
}

// incrementDiscount runs once per PAID transition. The transition is already committed,
// so failures are logged and counted rather than returned: a gateway retry would not
// repeat the increment.
func (r *Reconciler) incrementDiscount(ctx context.Context, log *zap.Logger, discountID string) {
	if r.discounts == nil {
		log.Error("discount usage not recorded: no discount store", zap.String("discount_code_id", discountID))
		return
	}
	var err error
	for attempt := 0; attempt < incrementAttempts; attempt++ {
		err = r.discounts.IncrementUsage(ctx, discountID)
		if err == nil || errors.Is(err, discount.ErrNotFound) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		r.count(ctx, MetricIncrementFailures, "")
		log.Error("increment discount usage", zap.Error(err), zap.String("discount_code_id", discountID))
	}
}

func (r *Reconciler) count(ctx context.Context, name, outcome string) {
	if r.metrics == nil {
		return
	}
	dims := map[string]string{}
	if outcome != "" {
		dims["Outcome"] = outcome
	}
	if err := r.metrics.Count(ctx, name, dims); err != nil {
		r.logger.Debug("metric dropped", zap.String("metric", name), zap.Error(err))
	}
}
