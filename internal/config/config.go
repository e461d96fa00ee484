// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	PostgresURL              string
	KafkaBrokers             []string
	RedisAddr                string
	InventoryServiceURL      string
	OrdersServiceURL         string
	EmailServiceURL          string
	PaymentKeySecret         string
	CODRegions               string
	RevertWindow             time.Duration
	RestockOnCancel          bool
	CheckoutRateLimit        int
	CheckoutRateWindow       time.Duration
	EmailDelay               time.Duration
	OTELExporterOTLPEndpoint string
	MigrationsPath           string
}

// Load returns the configuration for a service listening on defaultPort
// unless PORT overrides it.
func Load(defaultPort string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                     getenv("PORT", defaultPort),
		PostgresURL:              os.Getenv("POSTGRES_URL"),
		KafkaBrokers:             splitCSV(os.Getenv("KAFKA_BROKERS")),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		InventoryServiceURL:      os.Getenv("INVENTORY_SERVICE_URL"),
		OrdersServiceURL:         os.Getenv("ORDERS_SERVICE_URL"),
		EmailServiceURL:          os.Getenv("EMAIL_SERVICE_URL"),
		PaymentKeySecret:         os.Getenv("PAYMENT_KEY_SECRET"),
		CODRegions:               os.Getenv("COD_REGIONS"),
		OTELExporterOTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MigrationsPath:           getenv("MIGRATIONS_PATH", "file://migrations"),
	}

	var err error
	if cfg.RevertWindow, err = durationEnv("REVERT_WINDOW", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CheckoutRateWindow, err = durationEnv("CHECKOUT_RATE_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.EmailDelay, err = durationEnv("EMAIL_DELAY", 0); err != nil {
		return Config{}, err
	}
	if cfg.RestockOnCancel, err = boolEnv("RESTOCK_ON_CANCEL", false); err != nil {
		return Config{}, err
	}
	if cfg.CheckoutRateLimit, err = intEnv("CHECKOUT_RATE_LIMIT", 30); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Require fails naming the first of keys whose value is empty.
func (c Config) Require(keys ...string) error {
	values := map[string]string{
		"POSTGRES_URL":          c.PostgresURL,
		"KAFKA_BROKERS":         strings.Join(c.KafkaBrokers, ","),
		"REDIS_ADDR":            c.RedisAddr,
		"INVENTORY_SERVICE_URL": c.InventoryServiceURL,
		"ORDERS_SERVICE_URL":    c.OrdersServiceURL,
		"EMAIL_SERVICE_URL":     c.EmailServiceURL,
		"PAYMENT_KEY_SECRET":    c.PaymentKeySecret,
	}
	for _, k := range keys {
		v, known := values[k]
		if !known {
			return fmt.Errorf("unknown configuration key %s", k)
		}
		if v == "" {
			return fmt.Errorf("%s environment variable is required", k)
		}
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	return d, nil
}

func boolEnv(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", k, err)
	}
	return b, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	return n, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
