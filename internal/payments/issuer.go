package payments

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
)

const defaultDescriptionMaxLen = 25

// Gateway creates payment links; *Client satisfies it.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, req SignedRequest) (*GatewayLink, error)
}

// Link is returned to the storefront, which redirects the browser to CheckoutURL.
type Link struct {
	OrderCode     string `json:"orderCode"`
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId,omitempty"`
}

// IssuerConfig carries the signing key and callback URLs.
type IssuerConfig struct {
	ChecksumKey       string
	ReturnURL         string
	CancelURL         string
	DescriptionMaxLen int
}

// Issuer signs payment requests and asks the gateway for a checkout link.
type Issuer struct {
	gateway Gateway
	cfg     IssuerConfig
	logger  *zap.Logger
}

// NewIssuer wires an Issuer.
func NewIssuer(gateway Gateway, cfg IssuerConfig, logger *zap.Logger) *Issuer {
	if cfg.DescriptionMaxLen <= 0 {
		cfg.DescriptionMaxLen = defaultDescriptionMaxLen
	}
	return &Issuer{gateway: gateway, cfg: cfg, logger: logging.OrNop(logger)}
}

// CreatePaymentLink issues a checkout link for orderCode. It does not touch the order.
func (i *Issuer) CreatePaymentLink(ctx context.Context, orderCode string, amount int64, description string) (*Link, error) {
	numeric, err := orders.NumericCode(orderCode)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidOrderCode, "order code is invalid", err)
	}
	if amount <= 0 {
		return nil, apperr.Validation(apperr.CodeOrderNotPayable, "order amount must be positive")
	}
	canonical, _ := orders.CanonicalCode(orderCode)

	req := PaymentRequest{
		OrderCode:   numeric,
		Amount:      amount,
		Description: i.description(description, canonical),
		ReturnURL:   withOrderCode(i.cfg.ReturnURL, canonical),
		CancelURL:   withOrderCode(i.cfg.CancelURL, canonical),
	}
	signed := SignedRequest{PaymentRequest: req, Signature: SignPaymentRequest(i.cfg.ChecksumKey, req)}

	log := logging.FromContext(ctx, i.logger).With(zap.String("order_code", canonical))
	link, err := i.gateway.CreatePaymentLink(ctx, signed)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			log.Error("payment gateway rejected request",
				zap.Int("status", gwErr.StatusCode),
				zap.String("gateway_code", gwErr.Code),
				zap.String("gateway_body", gwErr.Body))
			return nil, apperr.Upstream(apperr.CodeGatewayError, "could not create payment link, try again", err).
				WithDetail("gateway_body", gwErr.Body)
		}
		log.Error("payment gateway call failed", zap.Error(err))
		return nil, apperr.Upstream(apperr.CodeGatewayError, "could not create payment link, try again", err)
	}

	log.Info("payment link issued", zap.String("payment_link_id", link.PaymentLinkID), zap.Int64("amount", amount))
	return &Link{OrderCode: canonical, CheckoutURL: link.CheckoutURL, PaymentLinkID: link.PaymentLinkID}, nil
}

func (i *Issuer) description(desc, code string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		desc = code
	}
	r := []rune(desc)
	if len(r) > i.cfg.DescriptionMaxLen {
		r = r[:i.cfg.DescriptionMaxLen]
	}
	return string(r)
}

// withOrderCode adds orderCode to base's query, keeping any existing parameters.
func withOrderCode(base, code string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("orderCode", code)
	u.RawQuery = q.Encode()
	return u.String()
}

// OrderReader is the slice of orders.Repository the Service needs.
type OrderReader interface {
	FindByCode(ctx context.Context, orderCode string) (*orders.Order, error)
}

// Service issues links for a caller's own pending orders.
type Service struct {
	orders OrderReader
	issuer *Issuer
}

// NewService wires a Service.
func NewService(repo OrderReader, issuer *Issuer) *Service {
	return &Service{orders: repo, issuer: issuer}
}

// CreateForOrder loads the order, checks the caller owns it and that it is still PENDING,
// then issues a link for its persisted total.
func (s *Service) CreateForOrder(ctx context.Context, userID, orderCode string) (*Link, error) {
	canonical, err := orders.CanonicalCode(orderCode)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidOrderCode, "order code is invalid", err)
	}
	order, err := s.orders.FindByCode(ctx, canonical)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Persistence(apperr.CodeOrderPersistFailed, "could not load order", err)
	}
	if order.UserID != userID {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeForbidden, "order belongs to another user")
	}
	if order.Status != orders.StatusPending {
		return nil, apperr.Conflict(apperr.CodeOrderNotPayable, "order is not awaiting payment").
			WithDetail("status", order.Status)
	}
	return s.issuer.CreatePaymentLink(ctx, order.OrderCode, order.Total, "")
}
