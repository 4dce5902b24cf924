package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-checkout/internal/auth"
	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/reconcile"
	"github.com/imrishuroy/storefront-checkout/internal/store/memory"
)

const checksumKey = "checksum-key"

type fakeGateway struct {
	mu       sync.Mutex
	requests []payments.SignedRequest
	err      error
}

func (g *fakeGateway) CreatePaymentLink(_ context.Context, req payments.SignedRequest) (*payments.GatewayLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payments.GatewayLink{CheckoutURL: "https://pay.example/checkout/pl_1", PaymentLinkID: "pl_1", Status: "PENDING"}, nil
}

type testEnv struct {
	router   *gin.Engine
	store    *memory.Store
	gateway  *fakeGateway
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	pct := int64(10)
	require.NoError(t, store.SaveDiscount(discount.Code{
		ID: "d-summer", Code: "SUMMER10", Kind: discount.KindPercent, PercentOff: &pct,
		StartAt: time.Now().Add(-24 * time.Hour), Enabled: true, MinOrderAmount: 200000,
	}))

	gw := &fakeGateway{}
	issuer := payments.NewIssuer(gw, payments.IssuerConfig{
		ChecksumKey: checksumKey,
		ReturnURL:   "https://shop.example/checkout/success",
		CancelURL:   "https://shop.example/checkout/cancel",
	}, nil)
	verifier := auth.NewVerifier("jwt-secret", "storefront")

	router := NewRouter(Deps{
		Writer: orders.NewWriter(orders.WriterDeps{
			Orders:    store,
			Discounts: store.Discounts(),
			Shipping:  orders.ShippingPolicy{FlatFee: 20000, FreeThreshold: 500000},
			Timeout:   time.Second,
		}),
		Orders:      store,
		Payments:    payments.NewService(store, issuer),
		Reconciler:  reconcile.New(reconcile.Deps{Orders: store, Discounts: store.Discounts(), ChecksumKey: checksumKey}),
		Carts:       cart.NewService(store.Carts(), nil),
		Idempotency: idempotency.NewMemoryStore(time.Hour),
		Auth:        verifier,
	})
	return &testEnv{router: router, store: store, gateway: gw, verifier: verifier}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := e.verifier.Issue(user, user+"@example.com", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func orderBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "quantity": 1, "unitPrice": 100000},
			{"productId": "p2", "quantity": 1, "unitPrice": 150000},
		},
		"shippingAddress": map[string]any{
			"fullName": "Nguyen Van A", "phone": "0900000000", "email": "a@example.com",
			"addressLine": "1 Le Loi", "province": "HCM", "district": "1",
		},
		"discountCode":  "summer10",
		"expectedTotal": 245000,
	}
}

func signedWebhook(t *testing.T, orderCode string, status string) []byte {
	t.Helper()
	numeric, err := orders.NumericCode(orderCode)
	require.NoError(t, err)
	data := map[string]any{
		"orderCode":     numeric,
		"amount":        int64(245000),
		"paymentLinkId": "pl_1",
		"status":        status,
		"reference":     "FT123",
	}
	b, err := json.Marshal(map[string]any{
		"code":      "00",
		"desc":      "success",
		"data":      data,
		"signature": payments.SignWebhookData(checksumKey, data),
	})
	require.NoError(t, err)
	return b
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/orders", "", orderBody(), requestIDHeader, "req-1")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	body := decode[errorBody](t, w)
	require.Equal(t, "UNAUTHENTICATED", body.Error)
	require.Equal(t, "req-1", body.RequestID)
}

func TestCheckoutFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/orders", "u1", orderBody(), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	placed := decode[orders.PlaceOrderResult](t, w)
	require.Equal(t, int64(245000), placed.Total)
	require.Equal(t, orders.StatusPending, placed.Status)
	require.Equal(t, "/orders/by-code?code="+placed.OrderCode, w.Header().Get("Location"))

	// retry with the same key replays the first response
	w = env.do(t, http.MethodPost, "/orders", "u1", orderBody(), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	require.Equal(t, placed.OrderCode, decode[orders.PlaceOrderResult](t, w).OrderCode)
	require.Equal(t, 1, env.store.OrderCount())

	// reusing the key with a different body is rejected
	changed := orderBody()
	changed["expectedTotal"] = nil
	w = env.do(t, http.MethodPost, "/orders", "u1", changed, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/orders/by-code?code="+placed.OrderCode, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[orderResponse](t, w)
	require.Len(t, got.Items, 2)
	require.Equal(t, "d-summer", got.Order.DiscountCodeID)

	w = env.do(t, http.MethodGet, "/orders/by-code?code="+placed.OrderCode, "u2", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/payments/create", "u1", map[string]string{"orderCode": placed.OrderCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	link := decode[payments.Link](t, w)
	require.Equal(t, "https://pay.example/checkout/pl_1", link.CheckoutURL)
	require.Len(t, env.gateway.requests, 1)
	require.Equal(t, int64(245000), env.gateway.requests[0].Amount)

	for i := 0; i < 2; i++ {
		w = env.do(t, http.MethodPost, "/payments/webhook", "", signedWebhook(t, placed.OrderCode, "PAID"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decode[reconcile.Result](t, w)
		require.True(t, res.OK)
		require.Equal(t, orders.StatusPaid, res.Status)
	}
	d, ok := env.store.Discount("d-summer")
	require.True(t, ok)
	require.Equal(t, int64(1), d.UsesCount)

	w = env.do(t, http.MethodPost, "/payments/create", "u1", map[string]string{"orderCode": placed.OrderCode})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "ORDER_NOT_PAYABLE", decode[errorBody](t, w).Error)
}

func TestCreateOrder_ValidationIsReplayed(t *testing.T) {
	env := newTestEnv(t)
	body := orderBody()
	body["items"] = []map[string]any{}

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/orders", "u1", body, "Idempotency-Key", "k-empty")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "EMPTY_CART", decode[errorBody](t, w).Error)
	}
}

func TestCreateOrder_PersistenceFailureMarksKeyFailed(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetFault(memory.FaultOrderHeader, errors.New("disk full"))

	w := env.do(t, http.MethodPost, "/orders", "u1", orderBody(), "Idempotency-Key", "k-fail")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "ORDER_PERSIST_FAILED", decode[errorBody](t, w).Error)

	env.store.SetFault(memory.FaultOrderHeader, nil)
	w = env.do(t, http.MethodPost, "/orders", "u1", orderBody(), "Idempotency-Key", "k-fail")
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "previous_attempt_failed", decode[errorBody](t, w).Error)

	// without a key the request goes through
	w = env.do(t, http.MethodPost, "/orders", "u1", orderBody())
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateOrder_TotalMismatch(t *testing.T) {
	env := newTestEnv(t)
	body := orderBody()
	body["expectedTotal"] = 250000

	w := env.do(t, http.MethodPost, "/orders", "u1", body)
	require.Equal(t, http.StatusConflict, w.Code)
	got := decode[errorBody](t, w)
	require.Equal(t, "TOTAL_MISMATCH", got.Error)
	require.EqualValues(t, 245000, got.Details["total"])
}

func TestCreatePayment_GatewayFailureHidesBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/orders", "u1", orderBody())
	require.Equal(t, http.StatusCreated, w.Code)
	placed := decode[orders.PlaceOrderResult](t, w)

	env.gateway.err = &payments.GatewayError{StatusCode: http.StatusBadRequest, Code: "20", Body: `{"code":"20","desc":"secret detail"}`}
	w = env.do(t, http.MethodPost, "/payments/create", "u1", map[string]string{"orderCode": placed.OrderCode})
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.NotContains(t, w.Body.String(), "secret detail")
	require.Equal(t, "PAYMENT_GATEWAY_ERROR", decode[errorBody](t, w).Error)
}

func TestWebhook_Rejections(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/payments/webhook", "", []byte(`{"code":"00"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	tampered := signedWebhook(t, "ORD123", "PAID")
	tampered = bytes.Replace(tampered, []byte("245000"), []byte("1000"), 1)
	w = env.do(t, http.MethodPost, "/payments/webhook", "", tampered)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "SIGNATURE_MISMATCH", decode[errorBody](t, w).Error)

	w = env.do(t, http.MethodPost, "/payments/webhook", "", signedWebhook(t, "ORD123", "PAID"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, reconcile.StatusIgnored, decode[reconcile.Result](t, w).Status)

	oversized := []byte(`{"signature":"ab","data":{"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}}`)
	w = env.do(t, http.MethodPost, "/payments/webhook", "", oversized)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "INVALID_PAYLOAD", decode[errorBody](t, w).Error)
}

func TestCartRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/cart/items", "u1", map[string]any{"productId": "p1", "quantity": 1, "unitPrice": 100000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/cart/items", "u1", map[string]any{"productId": "p1", "quantity": 2, "unitPrice": 100000})
	require.Equal(t, 3, decode[cart.Item](t, w).Quantity)

	w = env.do(t, http.MethodPost, "/cart/items", "u1", map[string]any{"productId": "p1", "quantity": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_ITEM", decode[errorBody](t, w).Error)

	w = env.do(t, http.MethodPost, "/cart/merge", "u1", map[string]any{"items": []map[string]any{
		{"productId": "p1", "quantity": 1, "unitPrice": 100000},
		{"productId": "p2", "quantity": 2, "unitPrice": 150000},
	}})
	require.Equal(t, http.StatusOK, w.Code)
	merged := decode[cartResponse](t, w)
	require.Len(t, merged.Items, 2)
	for _, it := range merged.Items {
		if it.ProductID == "p1" {
			require.Equal(t, 4, it.Quantity)
		}
	}

	w = env.do(t, http.MethodPatch, "/cart/items/p2", "u1", map[string]any{"quantity": 0})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[cartResponse](t, w).Items, 1)

	w = env.do(t, http.MethodDelete, "/cart/items/p1", "u1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/cart", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decode[cartResponse](t, w).Items)

	w = env.do(t, http.MethodDelete, "/cart", "u1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}
