package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Dedup struct {
	Redis   *redis.Client
	Service string
}

// FirstSeen marks id as processed and reports whether this call was the first.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.Redis.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}
