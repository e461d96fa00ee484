package redisx

import "time"

const (
	// idem:checkout:{customer_id}:{idempotency_key} -> "pending" while in flight, then order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// rate_limit:checkout:{client}
	KeyRateLimitCheckout = "rate_limit:checkout:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency     = 24 * time.Hour
	TTLIdempotencyLock = 30 * time.Second
	TTLDedup           = 48 * time.Hour
)
