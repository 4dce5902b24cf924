package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/app"
	"github.com/imrishuroy/storefront-checkout/internal/aws"
	"github.com/imrishuroy/storefront-checkout/internal/config"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var clients *aws.AWSClients
	if app.NeedsAWS(cfg) {
		if clients, err = aws.NewAWSClients(ctx); err != nil {
			logger.Fatal("failed to init aws clients", zap.Error(err))
		}
	}
	stores, err := app.OpenStores(ctx, cfg, clients)
	if err != nil {
		logger.Fatal("failed to open stores", zap.Error(err))
	}
	defer func() { _ = stores.Close() }()

	p := NewProcessor(stores.Carts, logger.Named("worker"))

	// RUN_LOCAL simulates a single SQS event built from LOCAL_SQS_BODY.
	if cfg.Server.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"order.placed","order_code":"ORD1","user_id":"local-user"}`
		}
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler failed", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
