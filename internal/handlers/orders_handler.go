package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

// createOrder handles POST /orders. When the client sends an Idempotency-Key, the first
// response for that key is stored and replayed for retries with the same body.
func (s *server) createOrder(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)
	log := logging.FromContext(ctx, s.Logger).With(zap.String("user_id", user.ID))

	raw, ok := readBody(c)
	if !ok {
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	// Reserve the idempotency key before doing any work
	var idempKey string
	if key := c.GetHeader(s.IdempotencyHeader); key != "" && s.Idempotency != nil {
		idempKey = idempotency.ScopedKey(user.ID, key)
		created, err := s.Idempotency.CreateIfNotExists(ctx, idempKey, idempotency.Fingerprint(raw))
		if err != nil {
			writeError(c, apperr.Persistence(apperr.CodeOrderPersistFailed, "could not reserve idempotency key", err))
			return
		}
		if !created {
			s.replay(c, idempKey, raw)
			return
		}
	}

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		s.finishWithError(c, idempKey, err)
		return
	}

	res, err := s.Writer.PlaceOrder(ctx, placeOrderInput(user.ID, req))
	if err != nil {
		s.finishWithError(c, idempKey, err)
		return
	}
	if res.PerUserLimitUnchecked {
		log.Warn("discount per-user limit not checked", zap.String("order_code", res.OrderCode))
	}

	if idempKey != "" {
		body, _ := json.Marshal(res)
		if err := s.Idempotency.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
			log.Warn("store idempotent response", zap.Error(err), zap.String("order_code", res.OrderCode))
		}
	}

	c.Header("Location", "/orders/by-code?code="+url.QueryEscape(res.OrderCode))
	c.JSON(http.StatusCreated, res)
}

// replay answers a retried request from its idempotency record.
func (s *server) replay(c *gin.Context, key string, raw []byte) {
	rec, err := s.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, apperr.Persistence(apperr.CodeOrderPersistFailed, "could not load idempotency record", err))
		return
	}
	if rec == nil {
		// expired between reservation and lookup
		writeStatus(c, http.StatusConflict, "idempotency_key_expired", "retry the request")
		return
	}
	if rec.Fingerprint != "" && rec.Fingerprint != idempotency.Fingerprint(raw) {
		writeStatus(c, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used with a different request body")
		return
	}

	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Idempotent-Replayed", "true")
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	case idempotency.StatusFailed:
		writeStatus(c, http.StatusConflict, "previous_attempt_failed", "previous attempt failed, retry with a new idempotency key")
	default:
		writeStatus(c, http.StatusInternalServerError, "unknown_idempotency_status", rec.Status)
	}
}

// finishWithError renders err and settles the idempotency record. Deterministic
// rejections are stored so retries replay them; anything else marks the key FAILED.
func (s *server) finishWithError(c *gin.Context, key string, err error) {
	status, body := renderError(c, err)
	if key != "" {
		ctx := c.Request.Context()
		var serr error
		switch apperr.KindOf(err) {
		case apperr.KindValidation, apperr.KindConflict:
			encoded, _ := json.Marshal(body)
			serr = s.Idempotency.MarkDone(ctx, key, string(encoded), status)
		default:
			serr = s.Idempotency.MarkFailed(ctx, key, err.Error())
		}
		if serr != nil {
			logging.FromContext(ctx, s.Logger).Warn("settle idempotency key", zap.Error(serr))
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func placeOrderInput(userID string, req validation.CreateOrderRequest) orders.PlaceOrderInput {
	lines := make([]orders.LineInput, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.LineInput{
			ProductID: it.ProductID,
			Variant:   it.Variant,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	a := req.ShippingAddress
	return orders.PlaceOrderInput{
		UserID: userID,
		Items:  lines,
		Address: orders.ShippingAddress{
			FullName:    a.FullName,
			Phone:       a.Phone,
			Email:       a.Email,
			AddressLine: a.AddressLine,
			Province:    a.Province,
			District:    a.District,
			Ward:        a.Ward,
			Note:        a.Note,
		},
		DiscountCode:  req.DiscountCode,
		ExpectedTotal: req.ExpectedTotal,
	}
}

type orderResponse struct {
	Order *orders.Order `json:"order"`
	Items []orders.Item `json:"items"`
}

// orderByCode handles GET /orders/by-code?code=. Only the owner may read an order.
func (s *server) orderByCode(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := orders.CanonicalCode(c.Query("code"))
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidOrderCode, "order code is invalid", err))
		return
	}

	order, err := s.Orders.FindByCode(ctx, code)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(c, apperr.NotFound(apperr.CodeOrderNotFound, "order not found"))
		return
	}
	if err != nil {
		writeError(c, apperr.Persistence(apperr.CodeOrderPersistFailed, "could not load order", err))
		return
	}
	if order.UserID != currentUser(c).ID {
		writeError(c, apperr.New(apperr.KindForbidden, apperr.CodeForbidden, "order belongs to another user"))
		return
	}

	items, err := s.Orders.ListItems(ctx, order.ID)
	if err != nil {
		writeError(c, apperr.Persistence(apperr.CodeItemsPersistFailed, "could not load order items", err))
		return
	}
	if items == nil {
		items = []orders.Item{}
	}
	c.JSON(http.StatusOK, orderResponse{Order: order, Items: items})
}
