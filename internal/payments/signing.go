// Package payments signs requests to the payment-link gateway, verifies its webhooks and
// issues checkout links for pending orders.
package payments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PaymentRequest is the signed part of an outbound payment-link request.
type PaymentRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl"`
	CancelURL   string `json:"cancelUrl"`
}

// SigningString renders the request in the gateway's fixed field order.
func (r PaymentRequest) SigningString() string {
	return "amount=" + strconv.FormatInt(r.Amount, 10) +
		"&cancelUrl=" + r.CancelURL +
		"&description=" + r.Description +
		"&orderCode=" + strconv.FormatInt(r.OrderCode, 10) +
		"&returnUrl=" + r.ReturnURL
}

// SignPaymentRequest returns the hex HMAC-SHA256 of the request's signing string.
func SignPaymentRequest(checksumKey string, r PaymentRequest) string {
	return sign(checksumKey, r.SigningString())
}

// WebhookSigningString joins data as key=value pairs sorted by key. Null values and the
// literal strings "null" and "undefined" become empty; objects and arrays are rendered
// as JSON the way the gateway's JSON.stringify does.
func WebhookSigningString(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(signingValue(data[k]))
	}
	return b.String()
}

func signingValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if t == "null" || t == "undefined" {
			return ""
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.RawMessage:
		return string(t)
	case map[string]any, []any:
		return stringify(t)
	default:
		return fmt.Sprint(t)
	}
}

// stringify renders v as compact JSON without HTML escaping. Maps built in Go come out
// with sorted keys; decoded webhooks keep nested values as json.RawMessage instead.
func stringify(v any) string {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// SignWebhookData returns the hex HMAC-SHA256 of data's sorted signing string.
func SignWebhookData(checksumKey string, data map[string]any) string {
	return sign(checksumKey, WebhookSigningString(data))
}

// VerifyWebhookData reports whether signature matches data. Hex case is ignored.
func VerifyWebhookData(checksumKey string, data map[string]any, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(WebhookSigningString(data)))
	return hmac.Equal(got, mac.Sum(nil))
}

func sign(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
