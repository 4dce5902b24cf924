// Package handlers exposes the checkout services over HTTP.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/auth"
	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/reconcile"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

const defaultIdempotencyHeader = "Idempotency-Key"

// OrderReader is the read side of orders.Repository used by GET /orders/by-code.
type OrderReader interface {
	FindByCode(ctx context.Context, orderCode string) (*orders.Order, error)
	ListItems(ctx context.Context, orderID string) ([]orders.Item, error)
}

// Deps groups the services behind the router. Idempotency is optional; without it the
// Idempotency-Key header is ignored.
type Deps struct {
	Writer            *orders.Writer
	Orders            OrderReader
	Payments          *payments.Service
	Reconciler        *reconcile.Reconciler
	Carts             *cart.Service
	Idempotency       idempotency.Repository
	IdempotencyHeader string
	Auth              *auth.Verifier
	Logger            *zap.Logger
}

type server struct {
	Deps
	validate *validatorv10.Validate
}

// NewRouter builds the gin engine with every checkout route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.IdempotencyHeader == "" {
		deps.IdempotencyHeader = defaultIdempotencyHeader
	}
	s := &server{Deps: deps, validate: validation.New()}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// the gateway authenticates webhooks by signature, not by session
	r.POST("/payments/webhook", s.paymentWebhook)

	authed := r.Group("/", deps.Auth.Middleware(writeError))
	authed.POST("/orders", s.createOrder)
	authed.GET("/orders/by-code", s.orderByCode)
	authed.POST("/payments/create", s.createPayment)

	authed.GET("/cart", s.getCart)
	authed.POST("/cart/items", s.addCartItem)
	authed.PATCH("/cart/items/:productId", s.setCartQuantity)
	authed.DELETE("/cart/items/:productId", s.removeCartItem)
	authed.POST("/cart/merge", s.mergeCart)
	authed.DELETE("/cart", s.clearCart)

	return r
}

// currentUser returns the authenticated user. The auth middleware guarantees presence on
// authed routes.
func currentUser(c *gin.Context) auth.User {
	u, _ := auth.CurrentUser(c)
	return u
}
