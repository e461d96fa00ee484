package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup records processed event ids so redelivered messages are handled once.
type Dedup struct {
	rdb *redis.Client
}

func NewDedup(rdb *redis.Client) *Dedup {
	return &Dedup{rdb: rdb}
}

func (d *Dedup) Seen(ctx context.Context, service, eventID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Result()
	return n > 0, err
}

func (d *Dedup) Mark(ctx context.Context, service, eventID string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, service, eventID), 1, TTLDedup).Err()
}
