// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" env-default:"storefront"`
	Version     string `env:"SERVICE_VERSION" env-default:"dev"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	HTTP     HTTP
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Payment  Payment
	Catalog  Catalog
	Checkout Checkout
	Sweep    Sweep
	Mail     Mail

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
}

type HTTP struct {
	Port            string        `env:"PORT" env-default:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Postgres is optional; without a URL the service keeps state in memory.
type Postgres struct {
	URL          string `env:"POSTGRES_URL"`
	MaxOpenConns int    `env:"POSTGRES_MAX_OPEN_CONNS" env-default:"20"`
}

// Redis is optional; without an address carts live in memory.
type Redis struct {
	Addr       string        `env:"REDIS_ADDR"`
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `env:"REDIS_DB" env-default:"0"`
	SessionTTL time.Duration `env:"CART_SESSION_TTL" env-default:"168h"`
}

// Kafka is optional; without brokers events are only logged.
type Kafka struct {
	Brokers     []string      `env:"KAFKA_BROKERS" env-separator:","`
	Topic       string        `env:"KAFKA_EVENTS_TOPIC" env-default:"storefront.order-events"`
	GroupID     string        `env:"KAFKA_GROUP_ID" env-default:"storefront-notifier"`
	Buffer      int           `env:"EVENT_BUFFER" env-default:"256"`
	SendTimeout time.Duration `env:"EVENT_SEND_TIMEOUT" env-default:"5s"`
}

type Payment struct {
	// ProcessorURL selects the HTTP processor; empty means the simulated one.
	ProcessorURL     string        `env:"PAYMENT_PROCESSOR_URL"`
	ProcessorAPIKey  string        `env:"PAYMENT_PROCESSOR_API_KEY"`
	ProcessorTimeout time.Duration `env:"PAYMENT_PROCESSOR_TIMEOUT" env-default:"5s"`
	RetryMaxTries    uint          `env:"PAYMENT_RETRY_MAX_TRIES" env-default:"4"`
	RetryInitial     time.Duration `env:"PAYMENT_RETRY_INITIAL_INTERVAL" env-default:"200ms"`
	RetryMax         time.Duration `env:"PAYMENT_RETRY_MAX_INTERVAL" env-default:"2s"`
	MaxAttempts      int           `env:"PAYMENT_MAX_ATTEMPTS" env-default:"3"`
	WebhookSecret    string        `env:"PAYMENT_WEBHOOK_SECRET"`
}

// Catalog is read from URL when set; otherwise from the static Seed.
type Catalog struct {
	URL      string        `env:"CATALOG_URL"`
	Seed     string        `env:"CATALOG_SEED" env-default:"sku-tee:2500,sku-mug:1200,sku-cap:1800,gift-wrap:300:untracked"`
	Timeout  time.Duration `env:"CATALOG_TIMEOUT" env-default:"3s"`
	CacheTTL time.Duration `env:"CATALOG_CACHE_TTL" env-default:"1m"`
}

type Checkout struct {
	Currency string `env:"CURRENCY" env-default:"USD"`
	NodeID   int64  `env:"ORDER_NUMBER_NODE" env-default:"1"`
}

type Sweep struct {
	Grace      time.Duration `env:"RESERVATION_GRACE" env-default:"15m"`
	StaleAfter time.Duration `env:"STALE_ORDER_TTL" env-default:"24h"`
	Interval   time.Duration `env:"SWEEP_INTERVAL" env-default:"1m"`
}

type Mail struct {
	URL     string        `env:"MAIL_SERVICE_URL" env-default:"http://localhost:8084"`
	Timeout time.Duration `env:"MAIL_TIMEOUT" env-default:"10s"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Checkout.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a three letter code, got %q", c.Checkout.Currency)
	}
	c.Checkout.Currency = strings.ToUpper(c.Checkout.Currency)

	if c.Checkout.NodeID < 0 || c.Checkout.NodeID > 1023 {
		return fmt.Errorf("ORDER_NUMBER_NODE must be between 0 and 1023, got %d", c.Checkout.NodeID)
	}
	if c.Payment.MaxAttempts <= 0 {
		return fmt.Errorf("PAYMENT_MAX_ATTEMPTS must be positive, got %d", c.Payment.MaxAttempts)
	}
	if c.Sweep.Grace <= 0 || c.Sweep.StaleAfter <= 0 || c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep durations must be positive")
	}
	return nil
}

// Usage describes every supported variable.
func Usage() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return desc
}
