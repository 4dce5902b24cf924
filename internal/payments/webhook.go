package payments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Webhook is the gateway's payment callback envelope.
type Webhook struct {
	Code      string         `json:"code"`
	Desc      string         `json:"desc"`
	Success   *bool          `json:"success,omitempty"`
	Data      map[string]any `json:"data"`
	Signature string         `json:"signature"`
}

// WebhookData holds the fields the reconciler acts on.
type WebhookData struct {
	OrderCode     string
	Amount        int64
	PaymentLinkID string
	Status        string
	Code          string
}

var (
	// ErrMalformedWebhook is returned for bodies that are not a webhook envelope.
	ErrMalformedWebhook = errors.New("malformed webhook payload")
	// ErrMissingData is returned when data or signature is absent.
	ErrMissingData = errors.New("webhook data or signature missing")
)

// ParseWebhook decodes body keeping numbers exact and nested values byte-for-byte so the
// signing string matches the gateway's.
func ParseWebhook(body []byte) (*Webhook, error) {
	var env struct {
		Code      string          `json:"code"`
		Desc      string          `json:"desc"`
		Success   *bool           `json:"success,omitempty"`
		Data      json.RawMessage `json:"data"`
		Signature string          `json:"signature"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	w := &Webhook{Code: env.Code, Desc: env.Desc, Success: env.Success, Signature: env.Signature}
	if len(env.Data) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		data, err := DecodeWebhookData(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
		}
		w.Data = data
	}
	if w.Data == nil || strings.TrimSpace(w.Signature) == "" {
		return nil, ErrMissingData
	}
	return w, nil
}

// DecodeWebhookData decodes a webhook data object. Scalars become string, bool, nil or
// json.Number; objects and arrays stay as compacted json.RawMessage in source key order.
func DecodeWebhookData(raw []byte) (map[string]any, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode data object: %w", err)
	}
	if fields == nil {
		return nil, errors.New("data object is empty")
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && (v[0] == '{' || v[0] == '[') {
			var buf bytes.Buffer
			if err := json.Compact(&buf, v); err != nil {
				return nil, fmt.Errorf("decode data.%s: %w", k, err)
			}
			out[k] = json.RawMessage(buf.Bytes())
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("decode data.%s: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// Fields extracts the reconciler's fields from Data. Missing fields are left empty.
func (w *Webhook) Fields() WebhookData {
	out := WebhookData{
		OrderCode:     scalar(w.Data["orderCode"]),
		PaymentLinkID: scalar(w.Data["paymentLinkId"]),
		Status:        scalar(w.Data["status"]),
		Code:          scalar(w.Data["code"]),
	}
	if n, ok := w.Data["amount"].(json.Number); ok {
		out.Amount, _ = n.Int64()
	}
	return out
}

// Succeeded reports whether the callback signals a completed payment. The gateway sets
// either data.status or the envelope code depending on the endpoint version.
func (w *Webhook) Succeeded() bool {
	return w.Fields().Status == "PAID" || strings.TrimSpace(w.Code) == "00"
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
