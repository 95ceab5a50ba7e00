package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-checkout/internal/cart"
	"github.com/joao-fontenele/storefront-checkout/internal/catalog"
	"github.com/joao-fontenele/storefront-checkout/internal/config"
	"github.com/joao-fontenele/storefront-checkout/internal/events"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
	"github.com/joao-fontenele/storefront-checkout/internal/messaging"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/payment"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

// deps holds the stores and adapters picked from configuration. Every
// optional backend falls back to its in-memory version.
type deps struct {
	backend   string
	ledger    inventory.Ledger
	carts     cart.Store
	orders    orders.Store
	intents   payment.IntentStore
	processor payment.Processor
	catalog   catalog.Catalog
	events    orders.EventEmitter

	closers []func(ctx context.Context)
}

func (d *deps) Close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i](ctx)
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{backend: "memory"}

	if cfg.Postgres.URL != "" {
		db, err := telemetry.OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		d.closers = append(d.closers, func(context.Context) { _ = db.Close() })
		d.usePostgres(db)
	} else {
		d.ledger = inventory.NewMemoryLedger()
		d.orders = orders.NewMemoryStore()
		d.intents = payment.NewMemoryIntentStore()
		logger.Warn("POSTGRES_URL not set, keeping stock, orders and payments in memory")
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, fmt.Errorf("instrumenting redis: %w", err)
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		d.closers = append(d.closers, func(context.Context) { _ = client.Close() })
		rdb = client
		d.carts = cart.NewRedisStore(client, cfg.Redis.SessionTTL)
	} else {
		d.carts = cart.NewMemoryStore()
		logger.Warn("REDIS_ADDR not set, keeping carts in memory")
	}

	if cfg.Catalog.URL != "" {
		var cat catalog.Catalog = catalog.NewHTTPCatalog(cfg.Catalog.URL, cfg.Catalog.Timeout)
		if rdb != nil {
			cat = catalog.NewCached(cat, rdb, cfg.Catalog.CacheTTL, logger)
		}
		d.catalog = cat
	} else {
		static, err := catalog.ParseStatic(cfg.Catalog.Seed)
		if err != nil {
			return nil, fmt.Errorf("parsing CATALOG_SEED: %w", err)
		}
		d.catalog = static
	}

	var processor payment.Processor
	if cfg.Payment.ProcessorURL != "" {
		processor = payment.NewHTTPProcessor(cfg.Payment.ProcessorURL, cfg.Payment.ProcessorAPIKey, cfg.Payment.ProcessorTimeout, logger)
	} else {
		processor = payment.NewSimulatedProcessor()
		logger.Warn("PAYMENT_PROCESSOR_URL not set, using the simulated processor")
	}
	d.processor = payment.NewRetryingProcessor(processor, payment.RetryPolicy{
		MaxTries:        cfg.Payment.RetryMaxTries,
		InitialInterval: cfg.Payment.RetryInitial,
		MaxInterval:     cfg.Payment.RetryMax,
		AttemptTimeout:  cfg.Payment.ProcessorTimeout,
	}, logger)

	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		emitter := events.NewKafkaEmitter(producer, logger, cfg.Kafka.Buffer, cfg.Kafka.SendTimeout)
		d.closers = append(d.closers,
			func(context.Context) { _ = producer.Close() },
			func(ctx context.Context) {
				if err := emitter.Close(ctx); err != nil {
					logger.Error("failed to drain event queue", "error", err)
				}
			},
		)
		d.events = emitter
	} else {
		d.events = events.NewLogEmitter(logger)
		logger.Warn("KAFKA_BROKERS not set, order events are only logged")
	}

	return d, nil
}

func (d *deps) usePostgres(db *sql.DB) {
	d.backend = "postgres"
	d.ledger = inventory.NewPostgresLedger(db)
	d.orders = orders.NewOrderRepository(db)
	d.intents = payment.NewIntentRepository(db)
}
