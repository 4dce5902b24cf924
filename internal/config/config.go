package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverDynamoDB = "dynamodb"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// Config captures runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Tables      TableConfig       `mapstructure:"tables"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Checkout    CheckoutConfig    `mapstructure:"checkout"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Events      EventsConfig      `mapstructure:"events"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

// ServerConfig configures the HTTP entry point.
type ServerConfig struct {
	Port     string `mapstructure:"port"`
	RunLocal bool   `mapstructure:"run_local"`
	LogLevel string `mapstructure:"log_level"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// TableConfig names the DynamoDB tables.
type TableConfig struct {
	Orders      string `mapstructure:"orders"`
	OrderItems  string `mapstructure:"order_items"`
	Addresses   string `mapstructure:"addresses"`
	Discounts   string `mapstructure:"discounts"`
	Carts       string `mapstructure:"carts"`
	Products    string `mapstructure:"products"`
	Idempotency string `mapstructure:"idempotency"`
}

// MySQLConfig configures the relational store.
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// GatewayConfig holds payment gateway credentials and callback URLs.
type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	ClientID          string        `mapstructure:"client_id"`
	APIKey            string        `mapstructure:"api_key"`
	ChecksumKey       string        `mapstructure:"checksum_key"`
	ReturnURL         string        `mapstructure:"return_url"`
	CancelURL         string        `mapstructure:"cancel_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DescriptionMaxLen int           `mapstructure:"description_max_len"`
}

// CheckoutConfig controls order pricing and write deadlines.
type CheckoutConfig struct {
	ShippingFee           int64         `mapstructure:"shipping_fee"`
	FreeShippingThreshold int64         `mapstructure:"free_shipping_threshold"`
	OrderWriteTimeout     time.Duration `mapstructure:"order_write_timeout"`
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// EventsConfig configures outbound events and metrics.
type EventsConfig struct {
	QueueURL         string `mapstructure:"queue_url"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

// CatalogConfig controls the price cache.
type CatalogConfig struct {
	PriceTTL time.Duration `mapstructure:"price_ttl"`
}

// IdempotencyConfig controls Idempotency-Key retention.
type IdempotencyConfig struct {
	Header string        `mapstructure:"header"`
	TTL    time.Duration `mapstructure:"ttl"`
}

var defaults = map[string]any{
	"server.port":                       "8080",
	"server.run_local":                  false,
	"server.log_level":                  "info",
	"store.driver":                      DriverDynamoDB,
	"tables.orders":                     "orders",
	"tables.order_items":                "order_items",
	"tables.addresses":                  "shipping_addresses",
	"tables.discounts":                  "discount_codes",
	"tables.carts":                      "carts",
	"tables.products":                   "products",
	"tables.idempotency":                "idempotency",
	"mysql.dsn":                         "",
	"mysql.max_open_conns":              50,
	"mysql.max_idle_conns":              10,
	"mysql.conn_max_lifetime":           time.Hour,
	"mysql.auto_migrate":                false,
	"gateway.base_url":                  "https://api-merchant.payos.vn",
	"gateway.client_id":                 "",
	"gateway.api_key":                   "",
	"gateway.checksum_key":              "",
	"gateway.return_url":                "http://localhost:3000/checkout/success",
	"gateway.cancel_url":                "http://localhost:3000/checkout/cancel",
	"gateway.timeout":                   15 * time.Second,
	"gateway.description_max_len":       25,
	"checkout.shipping_fee":             20000,
	"checkout.free_shipping_threshold":  500000,
	"checkout.order_write_timeout":      10 * time.Second,
	"auth.jwt_secret":                   "",
	"auth.issuer":                       "",
	"events.queue_url":                  "",
	"events.metrics_namespace":          "Storefront/Checkout",
	"catalog.price_ttl":                 5 * time.Minute,
	"idempotency.header":                "Idempotency-Key",
	"idempotency.ttl":                   48 * time.Hour,
}

// Load reads configuration from the environment (SECTION_KEY, e.g. GATEWAY_CHECKSUM_KEY)
// and, when CONFIG_FILE is set, from that file first.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names stay accepted.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.run_local", "SERVER_RUN_LOCAL", "RUN_LOCAL")
	_ = v.BindEnv("server.log_level", "SERVER_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("tables.orders", "TABLES_ORDERS", "ORDERS_TABLE")
	_ = v.BindEnv("tables.idempotency", "TABLES_IDEMPOTENCY", "IDEMPOTENCY_TABLE")
	_ = v.BindEnv("events.queue_url", "EVENTS_QUEUE_URL", "ORDERS_QUEUE_URL")

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidationError lists missing or invalid configuration keys.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending keys.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Validate checks the settings required by the selected driver and integrations.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	switch c.Store.Driver {
	case DriverDynamoDB:
		require("tables.orders", c.Tables.Orders)
		require("tables.order_items", c.Tables.OrderItems)
		require("tables.addresses", c.Tables.Addresses)
		require("tables.discounts", c.Tables.Discounts)
		require("tables.carts", c.Tables.Carts)
		require("tables.idempotency", c.Tables.Idempotency)
	case DriverMySQL:
		require("mysql.dsn", c.MySQL.DSN)
	case DriverMemory:
	default:
		missing = append(missing, "store.driver")
	}

	require("gateway.base_url", c.Gateway.BaseURL)
	require("gateway.client_id", c.Gateway.ClientID)
	require("gateway.api_key", c.Gateway.APIKey)
	require("gateway.checksum_key", c.Gateway.ChecksumKey)
	require("gateway.return_url", c.Gateway.ReturnURL)
	require("gateway.cancel_url", c.Gateway.CancelURL)
	require("auth.jwt_secret", c.Auth.JWTSecret)

	if c.Checkout.ShippingFee < 0 {
		missing = append(missing, "checkout.shipping_fee")
	}
	if c.Checkout.OrderWriteTimeout <= 0 {
		missing = append(missing, "checkout.order_write_timeout")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
