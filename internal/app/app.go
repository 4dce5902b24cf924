// Package app assembles stores and services from configuration for the binaries in cmd/.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/auth"
	"github.com/imrishuroy/storefront-checkout/internal/aws"
	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/catalog"
	"github.com/imrishuroy/storefront-checkout/internal/config"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/events"
	"github.com/imrishuroy/storefront-checkout/internal/handlers"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/reconcile"
	"github.com/imrishuroy/storefront-checkout/internal/store/memory"
	"github.com/imrishuroy/storefront-checkout/internal/store/sqlstore"
)

// Stores bundles the repositories of the selected driver.
type Stores struct {
	Orders      orders.Repository
	Discounts   discount.Repository
	Carts       cart.Repository
	Idempotency idempotency.Repository
	// Prices is nil for the memory driver; checkout then trusts cart snapshots.
	Prices catalog.Source

	closeFn func() error
}

// Close releases the underlying connections.
func (s *Stores) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// NeedsAWS reports whether cfg references any AWS service.
func NeedsAWS(cfg *config.Config) bool {
	return cfg.Store.Driver == config.DriverDynamoDB || cfg.Events.QueueURL != ""
}

// OpenStores connects the repositories for cfg.Store.Driver. clients may be nil unless
// the driver is dynamodb.
func OpenStores(ctx context.Context, cfg *config.Config, clients *aws.AWSClients) (*Stores, error) {
	switch cfg.Store.Driver {
	case config.DriverDynamoDB:
		if clients == nil {
			return nil, fmt.Errorf("dynamodb store requires aws clients")
		}
		t := cfg.Tables
		return &Stores{
			Orders:      orders.NewStore(clients.DynamoDB, orders.Tables{Orders: t.Orders, Items: t.OrderItems, Addresses: t.Addresses}),
			Discounts:   discount.NewStore(clients.DynamoDB, t.Discounts),
			Carts:       cart.NewStore(clients.DynamoDB, t.Carts),
			Idempotency: idempotency.NewStore(clients.DynamoDB, t.Idempotency, cfg.Idempotency.TTL),
			Prices:      catalog.NewStore(clients.DynamoDB, t.Products),
		}, nil

	case config.DriverMySQL:
		st, err := sqlstore.Open(cfg.MySQL)
		if err != nil {
			return nil, err
		}
		if cfg.MySQL.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return &Stores{
			Orders:      st,
			Discounts:   st.Discounts(),
			Carts:       st.Carts(),
			Idempotency: st.Idempotency(cfg.Idempotency.TTL),
			Prices:      st,
			closeFn:     st.Close,
		}, nil

	case config.DriverMemory:
		st := memory.New()
		return &Stores{
			Orders:      st,
			Discounts:   st.Discounts(),
			Carts:       st.Carts(),
			Idempotency: idempotency.NewMemoryStore(cfg.Idempotency.TTL),
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Publisher returns the SQS event publisher, or a no-op one when no queue is configured.
func Publisher(cfg *config.Config, clients *aws.AWSClients) events.Publisher {
	if clients == nil || cfg.Events.QueueURL == "" {
		return events.Nop{}
	}
	return events.NewQueuePublisher(clients.Publisher(cfg.Events.QueueURL))
}

// HandlerDeps wires the HTTP services over stores.
func HandlerDeps(cfg *config.Config, stores *Stores, clients *aws.AWSClients, logger *zap.Logger) handlers.Deps {
	pub := Publisher(cfg, clients)

	var prices orders.PriceLookup
	if stores.Prices != nil {
		prices = catalog.NewCache(stores.Prices, cfg.Catalog.PriceTTL)
	}

	writer := orders.NewWriter(orders.WriterDeps{
		Orders:    stores.Orders,
		Discounts: stores.Discounts,
		Prices:    prices,
		Events:    pub,
		Shipping: orders.ShippingPolicy{
			FlatFee:       cfg.Checkout.ShippingFee,
			FreeThreshold: cfg.Checkout.FreeShippingThreshold,
		},
		Timeout: cfg.Checkout.OrderWriteTimeout,
		Logger:  logger,
	})

	gateway := payments.NewClient(payments.ClientConfig{
		BaseURL:  cfg.Gateway.BaseURL,
		ClientID: cfg.Gateway.ClientID,
		APIKey:   cfg.Gateway.APIKey,
		Timeout:  cfg.Gateway.Timeout,
	})
	issuer := payments.NewIssuer(gateway, payments.IssuerConfig{
		ChecksumKey:       cfg.Gateway.ChecksumKey,
		ReturnURL:         cfg.Gateway.ReturnURL,
		CancelURL:         cfg.Gateway.CancelURL,
		DescriptionMaxLen: cfg.Gateway.DescriptionMaxLen,
	}, logger)

	recDeps := reconcile.Deps{
		Orders:      stores.Orders,
		Discounts:   stores.Discounts,
		Events:      pub,
		ChecksumKey: cfg.Gateway.ChecksumKey,
		Logger:      logger,
	}
	if clients != nil && cfg.Events.MetricsNamespace != "" {
		recDeps.Metrics = clients.Metrics(cfg.Events.MetricsNamespace)
	}

	return handlers.Deps{
		Writer:            writer,
		Orders:            stores.Orders,
		Payments:          payments.NewService(stores.Orders, issuer),
		Reconciler:        reconcile.New(recDeps),
		Carts:             cart.NewService(stores.Carts, logger),
		Idempotency:       stores.Idempotency,
		IdempotencyHeader: cfg.Idempotency.Header,
		Auth:              auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Logger:            logger,
	}
}
