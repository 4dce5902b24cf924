package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/app"
	"github.com/imrishuroy/storefront-checkout/internal/aws"
	"github.com/imrishuroy/storefront-checkout/internal/config"
	"github.com/imrishuroy/storefront-checkout/internal/handlers"
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
		clients, err = aws.NewAWSClients(ctx)
		if err != nil {
			logger.Fatal("failed to init aws clients", zap.Error(err))
		}
	}

	stores, err := app.OpenStores(ctx, cfg, clients)
	if err != nil {
		logger.Fatal("failed to open stores", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer func() { _ = stores.Close() }()

	r := handlers.NewRouter(app.HandlerDeps(cfg, stores, clients, logger))

	// run a plain HTTP server for local development
	if cfg.Server.RunLocal {
		addr := ":" + cfg.Server.Port
		logger.Info("running local server", zap.String("addr", addr), zap.String("driver", cfg.Store.Driver))
		if err := r.Run(addr); err != nil {
			logger.Fatal("local server stopped", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
