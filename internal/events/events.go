// Package events defines the messages the checkout service emits on its queue.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	TypeOrderPlaced = "order.placed"
	TypeOrderPaid   = "order.paid"
	TypeOrderFailed = "order.failed"
)

// Event is the queue payload shared by the API and the worker.
type Event struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	OrderCode     string    `json:"order_code"`
	UserID        string    `json:"user_id"`
	Total         int64     `json:"total"`
	DiscountID    string    `json:"discount_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Sender is the transport used by QueuePublisher; *aws.Publisher satisfies it.
type Sender interface {
	Send(ctx context.Context, body string, attributes map[string]string) (string, error)
}

// QueuePublisher encodes events as JSON and hands them to a Sender.
type QueuePublisher struct {
	sender Sender
}

// NewQueuePublisher returns a Publisher over sender.
func NewQueuePublisher(sender Sender) *QueuePublisher {
	return &QueuePublisher{sender: sender}
}

// Publish implements Publisher.
func (p *QueuePublisher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = p.sender.Send(ctx, string(body), map[string]string{
		"event_type":     evt.Type,
		"order_code":     evt.OrderCode,
		"correlation_id": evt.CorrelationID,
	})
	return err
}

// Decode parses a queue message body.
func Decode(body string) (Event, error) {
	var evt Event
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return evt, nil
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
