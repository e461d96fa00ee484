package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/storefront-fulfillment/internal/config"
	"github.com/joao-fontenele/storefront-fulfillment/internal/domain"
	"github.com/joao-fontenele/storefront-fulfillment/internal/messaging"
	"github.com/joao-fontenele/storefront-fulfillment/internal/notifier"
	"github.com/joao-fontenele/storefront-fulfillment/internal/redisx"
	"github.com/joao-fontenele/storefront-fulfillment/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("KAFKA_BROKERS", "EMAIL_SERVICE_URL"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "notifier", cfg.OTELExporterOTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	var dedup notifier.Deduplicator
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		dedup = redisx.NewDedup(rdb)
	} else {
		logger.Warn("REDIS_ADDR not set, redelivered events may be emailed twice")
	}

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, domain.OrderEventsTopic, "notification-worker",
		messaging.WithRetry(3, time.Second),
		messaging.WithLogger(logger),
	)
	defer func() { _ = consumer.Close() }()

	notificationHandler := notifier.NewNotificationHandler(cfg.EmailServiceURL, telemetry.NewHTTPClient(10*time.Second), dedup, logger)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", cfg.KafkaBrokers, "topic", domain.OrderEventsTopic)

	if err := consumer.Consume(ctx, notificationHandler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
