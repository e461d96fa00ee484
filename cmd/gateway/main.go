package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/storefront-fulfillment/internal/config"
	"github.com/joao-fontenele/storefront-fulfillment/internal/gateway"
	"github.com/joao-fontenele/storefront-fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8080")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("ORDERS_SERVICE_URL", "INVENTORY_SERVICE_URL"); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", cfg.OTELExporterOTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	httpClient := telemetry.NewHTTPClient(30 * time.Second)

	ordersProxy := gateway.NewServiceProxy(cfg.OrdersServiceURL, httpClient)
	inventoryProxy := gateway.NewServiceProxy(cfg.InventoryServiceURL, httpClient)
	handler := gateway.NewHandler(ordersProxy, inventoryProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("POST /orders/{id}/refund", telemetry.WithHTTPRoute(handler.HandleOrders))
	mux.HandleFunc("GET /catalog", telemetry.WithHTTPRoute(handler.HandleCatalog))
	mux.HandleFunc("GET /catalog/{id}", telemetry.WithHTTPRoute(handler.HandleCatalog))
	mux.HandleFunc("GET /catalog/{id}/stock", telemetry.WithHTTPRoute(handler.HandleCatalog))
	mux.HandleFunc("POST /catalog/{id}/availability", telemetry.WithHTTPRoute(handler.HandleCatalog))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHTTPHandler(mux, "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Port)
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
