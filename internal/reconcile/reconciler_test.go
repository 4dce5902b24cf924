package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/events"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/reconcile"
	"github.com/imrishuroy/storefront-checkout/internal/store/memory"
)

const (
	checksumKey = "checksum-key"
	orderCode   = "ORD1718442000000123"
	numericCode = int64(1718442000000123)
)

type counter struct {
	mu    sync.Mutex
	names map[string]int
}

func (c *counter) Count(_ context.Context, name string, _ map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.names == nil {
		c.names = map[string]int{}
	}
	c.names[name]++
	return nil
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names[name]
}

type publisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *publisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type fixture struct {
	store   *memory.Store
	metrics *counter
	events  *publisher
	rec     *reconcile.Reconciler
	clock   atomic.Int64
}

func newFixture(t *testing.T, discountID string) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), metrics: &counter{}, events: &publisher{}}
	f.clock.Store(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC).UnixNano())

	if discountID != "" {
		pct := int64(10)
		require.NoError(t, f.store.SaveDiscount(discount.Code{
			ID: discountID, Code: "SUMMER10", Kind: discount.KindPercent, PercentOff: &pct, Enabled: true,
		}))
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), &orders.Order{
		ID: "o1", OrderCode: orderCode, UserID: "u1", Status: orders.StatusPending,
		Subtotal: 250000, ShippingFee: 20000, DiscountAmount: 25000, Total: 245000,
		DiscountCodeID: discountID,
	}, []orders.Item{{OrderID: "o1", Line: 1, ProductID: "p1", Quantity: 1, PriceAtTime: 250000}}))

	f.rec = reconcile.New(reconcile.Deps{
		Orders:      f.store,
		Discounts:   f.store.Discounts(),
		Events:      f.events,
		Metrics:     f.metrics,
		ChecksumKey: checksumKey,
		Now: func() time.Time {
			// every call observes a later instant so a second paidAt write would be visible
			return time.Unix(0, f.clock.Add(int64(time.Second)))
		},
	})
	return f
}

func webhook(t *testing.T, code string, data map[string]any) []byte {
	t.Helper()
	body := map[string]any{
		"code":      code,
		"desc":      "success",
		"data":      data,
		"signature": payments.SignWebhookData(checksumKey, data),
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func paidData() map[string]any {
	return map[string]any{
		"orderCode":     numericCode,
		"amount":        int64(245000),
		"paymentLinkId": "pl_1",
		"status":        "PAID",
		"reference":     "FT123",
	}
}

func TestHandle_ReplaysIncrementOnce(t *testing.T) {
	f := newFixture(t, "d-summer")
	body := webhook(t, "00", paidData())

	const deliveries = 8
	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.rec.Handle(context.Background(), body)
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, res.OK)
			assert.Equal(t, orders.StatusPaid, res.Status)
			if res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), applied.Load())
	d, _ := f.store.Discount("d-summer")
	require.Equal(t, int64(1), d.UsesCount)
	require.Equal(t, 1, f.metrics.get(reconcile.MetricApplied))
	require.Equal(t, deliveries-1, f.metrics.get(reconcile.MetricDuplicate))

	order, err := f.store.FindByCode(context.Background(), orderCode)
	require.NoError(t, err)
	require.NotNil(t, order.PaidAt)
	firstPaid := *order.PaidAt

	_, err = f.rec.Handle(context.Background(), body)
	require.NoError(t, err)
	order, _ = f.store.FindByCode(context.Background(), orderCode)
	require.Equal(t, firstPaid, *order.PaidAt)
	require.Equal(t, "pl_1", order.PaymentLinkID)

	require.Len(t, f.events.events, 1)
	require.Equal(t, events.TypeOrderPaid, f.events.events[0].Type)
}

func TestHandle_TerminalStatusIsFinal(t *testing.T) {
	f := newFixture(t, "d-summer")
	failed := paidData()
	failed["status"] = "CANCELLED"

	res, err := f.rec.Handle(context.Background(), webhook(t, "01", failed))
	require.NoError(t, err)
	require.Equal(t, orders.StatusFailed, res.Status)
	require.True(t, res.Applied)

	res, err = f.rec.Handle(context.Background(), webhook(t, "00", paidData()))
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, orders.StatusFailed, res.Status)

	order, _ := f.store.FindByCode(context.Background(), orderCode)
	require.Equal(t, orders.StatusFailed, order.Status)
	require.Nil(t, order.PaidAt)
	d, _ := f.store.Discount("d-summer")
	require.Zero(t, d.UsesCount)
	require.Equal(t, events.TypeOrderFailed, f.events.events[0].Type)
}

func TestHandle_CodeOnlySuccessSignal(t *testing.T) {
	f := newFixture(t, "")
	data := paidData()
	data["status"] = ""
	res, err := f.rec.Handle(context.Background(), webhook(t, "00", data))
	require.NoError(t, err)
	require.Equal(t, orders.StatusPaid, res.Status)
}

func TestHandle_TamperedAmountRejected(t *testing.T) {
	f := newFixture(t, "d-summer")
	data := paidData()
	sig := payments.SignWebhookData(checksumKey, data)
	data["amount"] = int64(1000)
	body, err := json.Marshal(map[string]any{"code": "00", "data": data, "signature": sig})
	require.NoError(t, err)

	_, err = f.rec.Handle(context.Background(), body)
	require.Equal(t, apperr.CodeSignatureMismatch, apperr.CodeOf(err))
	require.Equal(t, 401, apperr.KindOf(err).HTTPStatus())

	order, _ := f.store.FindByCode(context.Background(), orderCode)
	require.Equal(t, orders.StatusPending, order.Status)
	require.Equal(t, 1, f.metrics.get(reconcile.MetricRejected))
}

func TestHandle_BadPayloads(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.rec.Handle(context.Background(), []byte(`{"data":{"orderCode":1}}`))
	require.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))
	require.Equal(t, 400, apperr.KindOf(err).HTTPStatus())

	_, err = f.rec.Handle(context.Background(), []byte(`{`))
	require.Equal(t, apperr.CodeInvalidPayload, apperr.CodeOf(err))

	data := paidData()
	data["orderCode"] = "abc"
	_, err = f.rec.Handle(context.Background(), webhook(t, "00", data))
	require.Equal(t, apperr.CodeInvalidOrderCode, apperr.CodeOf(err))
}

func TestHandle_UnknownOrderIgnored(t *testing.T) {
	f := newFixture(t, "")
	data := paidData()
	data["orderCode"] = int64(123)

	res, err := f.rec.Handle(context.Background(), webhook(t, "00", data))
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusIgnored, res.Status)
	require.False(t, res.Applied)
}

func TestHandle_StoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t, "d-summer")
	f.store.SetFault(memory.FaultStatusUpdate, errors.New("connection reset"))

	_, err := f.rec.Handle(context.Background(), webhook(t, "00", paidData()))
	require.Equal(t, apperr.CodeReconcileFailed, apperr.CodeOf(err))
	require.Equal(t, 500, apperr.KindOf(err).HTTPStatus())

	f.store.SetFault(memory.FaultStatusUpdate, nil)
	res, err := f.rec.Handle(context.Background(), webhook(t, "00", paidData()))
	require.NoError(t, err)
	require.True(t, res.Applied)
	d, _ := f.store.Discount("d-summer")
	require.Equal(t, int64(1), d.UsesCount)
}

func TestHandle_IncrementFailureStillAcknowledges(t *testing.T) {
	f := newFixture(t, "d-summer")
	f.store.SetFault(memory.FaultDiscountIncr, errors.New("throttled"))

	res, err := f.rec.Handle(context.Background(), webhook(t, "00", paidData()))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 1, f.metrics.get(reconcile.MetricIncrementFailures))
}

// rowlessUpdates commits the status change but fails to return the updated row.
type rowlessUpdates struct{ *memory.Store }

func (r rowlessUpdates) ConditionalUpdateStatus(ctx context.Context, code string, upd orders.StatusUpdate) (bool, *orders.Order, error) {
	matched, _, err := r.Store.ConditionalUpdateStatus(ctx, code, upd)
	if matched {
		return true, nil, errors.New("unmarshal order: bad attribute")
	}
	return matched, nil, err
}

func TestHandle_CommittedUpdateWithoutRowStillIncrements(t *testing.T) {
	f := newFixture(t, "d-summer")
	rec := reconcile.New(reconcile.Deps{
		Orders:      rowlessUpdates{f.store},
		Discounts:   f.store.Discounts(),
		Events:      f.events,
		Metrics:     f.metrics,
		ChecksumKey: checksumKey,
	})
	body := webhook(t, "00", paidData())

	res, err := rec.Handle(context.Background(), body)
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, orders.StatusPaid, res.Status)

	res, err = rec.Handle(context.Background(), body)
	require.NoError(t, err)
	require.False(t, res.Applied)

	d, _ := f.store.Discount("d-summer")
	require.Equal(t, int64(1), d.UsesCount)
	require.Len(t, f.events.events, 1)
	require.Equal(t, "u1", f.events.events[0].UserID)
}
