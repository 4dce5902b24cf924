package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	checkoutevents "github.com/imrishuroy/storefront-checkout/internal/events"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

// CartClearer empties a user's server cart; cart.Repository satisfies it.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// Processor consumes checkout events from SQS.
type Processor struct {
	carts  CartClearer
	logger *zap.Logger
}

// NewProcessor creates a worker processor.
func NewProcessor(carts CartClearer, logger *zap.Logger) *Processor {
	return &Processor{carts: carts, logger: logging.OrNop(logger)}
}

// Handle processes a batch and reports failed messages individually so SQS only
// redelivers those. Exhausted messages go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker message failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	evt, err := checkoutevents.Decode(rec.Body)
	if err != nil {
		// a malformed body never decodes on retry
		p.logger.Error("dropping undecodable message", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}

	log := p.logger.With(
		zap.String("type", evt.Type),
		zap.String("order_code", evt.OrderCode),
		zap.String("user_id", evt.UserID),
		zap.String("correlation_id", evt.CorrelationID),
	)

	switch evt.Type {
	case checkoutevents.TypeOrderPlaced:
		if evt.UserID == "" {
			log.Warn("order.placed without user, cart left as is")
			return nil
		}
		if err := p.carts.Clear(ctx, evt.UserID); err != nil {
			return fmt.Errorf("clear cart for order %s: %w", evt.OrderCode, err)
		}
		log.Info("cart cleared after checkout")
	case checkoutevents.TypeOrderPaid:
		log.Info("order paid", zap.Int64("total", evt.Total), zap.String("discount_id", evt.DiscountID))
	case checkoutevents.TypeOrderFailed:
		log.Warn("order payment failed", zap.Int64("total", evt.Total))
	default:
		log.Warn("unknown event type ignored")
	}
	return nil
}
