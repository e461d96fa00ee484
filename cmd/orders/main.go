package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/storefront-fulfillment/internal/checkout"
	"github.com/joao-fontenele/storefront-fulfillment/internal/config"
	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/fulfillment"
	"github.com/joao-fontenele/storefront-fulfillment/internal/inventory"
	"github.com/joao-fontenele/storefront-fulfillment/internal/messaging"
	"github.com/joao-fontenele/storefront-fulfillment/internal/orders"
	"github.com/joao-fontenele/storefront-fulfillment/internal/payment"
	"github.com/joao-fontenele/storefront-fulfillment/internal/redisx"
	"github.com/joao-fontenele/storefront-fulfillment/internal/region"
	"github.com/joao-fontenele/storefront-fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8081")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("POSTGRES_URL", "INVENTORY_SERVICE_URL", "PAYMENT_KEY_SECRET"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", cfg.OTELExporterOTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL, "orders")
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var publisher orders.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, domain.OrderEventsTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	var idempotency orders.Idempotency
	rateLimit := func(h http.Handler) http.Handler { return h }
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		if err := redisx.Ping(ctx, rdb); err != nil {
			logger.Warn("redis unreachable at startup, continuing", "error", err)
		}
		idempotency = redisx.NewIdempotencyStore(rdb)
		rateLimit = redisx.RateLimit(rdb, cfg.CheckoutRateLimit, cfg.CheckoutRateWindow, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, checkout idempotency and rate limiting disabled")
	}

	verifier, err := payment.NewVerifier(cfg.PaymentKeySecret)
	if err != nil {
		logger.Error("failed to create payment verifier", "error", err)
		os.Exit(1)
	}

	regions := region.Parse(cfg.CODRegions)
	logger.Info("cod regions loaded", "count", regions.Len())

	ledger := inventory.NewClient(cfg.InventoryServiceURL, telemetry.NewHTTPClient(10*time.Second))
	repo := orders.NewOrderRepository(db)

	checkoutService, err := checkout.NewService(ledger, repo, regions, publisher, logger)
	if err != nil {
		logger.Error("failed to create checkout service", "error", err)
		os.Exit(1)
	}

	var opts []orders.ServiceOption
	if cfg.RestockOnCancel {
		opts = append(opts, orders.WithRestockOnCancel(ledger))
	}
	machine := fulfillment.NewMachine(fulfillment.WithRevertWindow(cfg.RevertWindow))
	service := orders.NewService(repo, machine, publisher, logger, opts...)
	handler := orders.NewHandler(service, checkoutService, verifier, idempotency, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /checkout", rateLimit(telemetry.WithHTTPRoute(handler.HandleCheckout)))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(handler.HandleCancel))
	mux.HandleFunc("POST /orders/{id}/refund", telemetry.WithHTTPRoute(handler.HandleRefund))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHTTPHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port, "revert_window", machine.RevertWindow().String(), "restock_on_cancel", cfg.RestockOnCancel)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
