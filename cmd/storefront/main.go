package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront-checkout/internal/cart"
	"github.com/joao-fontenele/storefront-checkout/internal/checkout"
	"github.com/joao-fontenele/storefront-checkout/internal/config"
	"github.com/joao-fontenele/storefront-checkout/internal/identity"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/payment"
	"github.com/joao-fontenele/storefront-checkout/internal/sweep"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		fmt.Fprintln(os.Stderr, config.Usage())
		os.Exit(1)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.ServiceName)

	if err := run(cfg, logger); err != nil {
		logger.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, cfg.Version)
	if err != nil {
		return fmt.Errorf("initializing meter: %w", err)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	carts := cart.NewService(deps.carts, logger)
	orderService := orders.NewService(deps.orders, deps.ledger, deps.events, logger)
	orchestrator := payment.NewOrchestrator(deps.intents, deps.processor, orderService, deps.ledger, deps.events, cfg.Payment.MaxAttempts, logger)

	coordinator, err := checkout.NewCoordinator(
		checkout.Config{Currency: cfg.Checkout.Currency, NodeID: cfg.Checkout.NodeID},
		carts, deps.catalog, deps.ledger, deps.orders, orchestrator, deps.events, logger,
	)
	if err != nil {
		return err
	}

	sweeper := sweep.New(deps.ledger, orderService, sweep.Config{
		Grace:      cfg.Sweep.Grace,
		StaleAfter: cfg.Sweep.StaleAfter,
		Interval:   cfg.Sweep.Interval,
	}, logger)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h))
	}

	cartHandler := cart.NewHandler(carts, logger)
	route("GET /cart", cartHandler.HandleGet)
	route("POST /cart/lines", cartHandler.HandleAddLine)
	route("PUT /cart/lines/{unitId}", cartHandler.HandleUpdateLine)
	route("DELETE /cart/lines/{unitId}", cartHandler.HandleRemoveLine)
	route("DELETE /cart", cartHandler.HandleClear)
	route("POST /cart/merge", cartHandler.HandleMerge)

	route("POST /checkout", checkout.NewHandler(coordinator, logger).HandleCheckout)

	orderHandler := orders.NewHandler(orderService, logger)
	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/{number}", orderHandler.HandleGet)
	route("POST /orders/{number}/cancel", orderHandler.HandleCancel)
	route("POST /orders/{number}/fulfillment", identity.RequireAdmin(orderHandler.HandleFulfillment))

	paymentHandler := payment.NewHandler(orchestrator, cfg.Payment.WebhookSecret, logger)
	route("GET /payments/intents/{id}", paymentHandler.HandleGetIntent)
	route("POST /payments/intents/{id}/confirm", paymentHandler.HandleConfirm)
	route("POST /payments/orders/{orderId}/intents", paymentHandler.HandleCreateIntent)
	route("POST /payments/webhook", paymentHandler.HandleWebhook)

	stockHandler := inventory.NewHandler(deps.ledger, logger)
	route("GET /stock", stockHandler.HandleListStock)
	route("GET /stock/{unitId}", stockHandler.HandleGetStock)
	route("POST /stock/{unitId}/adjust", identity.RequireAdmin(stockHandler.HandleAdjust))

	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr: ":" + cfg.HTTP.Port,
		Handler: otelhttp.NewHandler(mux, cfg.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting storefront service", "port", cfg.HTTP.Port, "backend", deps.backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
