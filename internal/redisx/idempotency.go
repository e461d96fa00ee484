package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// pendingMarker holds the checkout key while the first request is in flight.
// Complete overwrites it with the order id.
const pendingMarker = "pending"

// IdempotencyStore remembers which order a checkout Idempotency-Key
// produced, so a client retry returns the original order instead of placing
// a second one.
type IdempotencyStore struct {
	rdb redis.Cmdable
}

func NewIdempotencyStore(rdb redis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb}
}

// Begin claims key for the caller. When the key is already taken it returns
// the order id recorded for it, or acquired=false with an empty id while the
// other request is still in flight.
//
// The claim and the result share one key, so a Complete landing between the
// SETNX and the GET is seen as a recorded order.
func (s *IdempotencyStore) Begin(ctx context.Context, customerID, key string) (orderID string, acquired bool, err error) {
	k := fmt.Sprintf(KeyIdemCheckout, customerID, key)

	// A second pass covers a claim that expired or was aborted between the
	// two calls.
	for range 2 {
		acquired, err = s.rdb.SetNX(ctx, k, pendingMarker, TTLIdempotencyLock).Result()
		if err != nil {
			return "", false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if acquired {
			return "", true, nil
		}

		orderID, err = s.rdb.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return "", false, fmt.Errorf("get idempotency key: %w", err)
		case orderID == pendingMarker:
			return "", false, nil
		default:
			return orderID, false, nil
		}
	}
	return "", false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, customerID, key, orderID string) error {
	if err := s.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, customerID, key), orderID, TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("record idempotency key: %w", err)
	}
	return nil
}

// Abort drops the claim so the client may retry with the same key.
func (s *IdempotencyStore) Abort(ctx context.Context, customerID, key string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(KeyIdemCheckout, customerID, key)).Err()
}
