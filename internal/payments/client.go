package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout      = 15 * time.Second
	paymentRequestsPath = "/v2/payment-requests"
	maxErrorBody        = 4 << 10
	successCode         = "00"
)

// SignedRequest is the outbound body: the signed fields plus their signature.
type SignedRequest struct {
	PaymentRequest
	Signature string `json:"signature"`
}

// GatewayLink is the part of the gateway's reply the service uses.
type GatewayLink struct {
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId"`
	Status        string `json:"status"`
}

// GatewayError describes an unusable gateway reply. Body is the raw response for logs.
type GatewayError struct {
	StatusCode int
	Code       string
	Body       string
	Reason     string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s (status %d, code %q)", e.Reason, e.StatusCode, e.Code)
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL  string
	ClientID string
	APIKey   string
	Timeout  time.Duration
}

// Client calls the payment-link gateway over HTTPS.
type Client struct {
	baseURL  string
	clientID string
	apiKey   string
	http     *http.Client
}

// NewClient constructs a gateway client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		clientID: cfg.ClientID,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type gatewayEnvelope struct {
	Code string       `json:"code"`
	Desc string       `json:"desc"`
	Data *GatewayLink `json:"data"`
}

// CreatePaymentLink posts req and returns the checkout link. Any non-2xx status,
// undecodable body, non-success code or missing checkout URL is a *GatewayError.
func (c *Client) CreatePaymentLink(ctx context.Context, req SignedRequest) (*GatewayLink, error) {
	endpoint, err := url.JoinPath(c.baseURL, paymentRequestsPath)
	if err != nil {
		return nil, fmt.Errorf("payment gateway endpoint: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-client-id", c.clientID)
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payment gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Reason: "unreadable body: " + err.Error()}
	}
	body := strings.TrimSpace(string(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: body, Reason: "unexpected status"}
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: body, Reason: "malformed body"}
	}
	if env.Code != successCode {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Code: env.Code, Body: body, Reason: "rejected: " + env.Desc}
	}
	if env.Data == nil || strings.TrimSpace(env.Data.CheckoutURL) == "" {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Code: env.Code, Body: body, Reason: "missing checkout url"}
	}
	return env.Data, nil
}
