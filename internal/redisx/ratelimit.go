package redisx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimit allows limit requests per client per window using a fixed-window
// counter. When Redis is unreachable requests are let through.
func RateLimit(rdb redis.Cmdable, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := fmt.Sprintf(KeyRateLimitCheckout, clientID(r))

			current, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				logger.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if current == 1 {
				if err := rdb.Expire(ctx, key, window).Err(); err != nil {
					// A counter without a TTL would block the client for good.
					logger.Warn("rate limiter window not set", "error", err, "key", key)
					if err := rdb.Del(ctx, key).Err(); err != nil {
						logger.Error("failed to drop rate limit counter", "error", err, "key", key)
					}
					next.ServeHTTP(w, r)
					return
				}
			}

			if current > int64(limit) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "too many requests",
					"kind":  "rate_limited",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientID trusts X-Forwarded-For. The gateway overwrites that header with
// the caller's address, so the orders service must only be reachable through
// it.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
