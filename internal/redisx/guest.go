package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GuestTokens stores guest capability secrets. The key TTL is the server-side
// limit on how long a guest may keep appending to one order.
type GuestTokens struct {
	Redis *redis.Client
	TTL   time.Duration
}

func (g *GuestTokens) ttl() time.Duration {
	if g.TTL > 0 {
		return g.TTL
	}
	return TTLGuestToken
}

func (g *GuestTokens) Issue(ctx context.Context, secret string, orderID int64) error {
	_, err := g.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(KeyGuestToken, secret), orderID, g.ttl())
		pipe.Set(ctx, fmt.Sprintf(KeyGuestOrder, orderID), secret, g.ttl())
		return nil
	})
	return err
}

// Resolve returns the order id for a live secret; ok=false when unknown or expired.
func (g *GuestTokens) Resolve(ctx context.Context, secret string) (int64, bool, error) {
	v, err := g.Redis.Get(ctx, fmt.Sprintf(KeyGuestToken, secret)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("guest token %q: %w", secret, err)
	}
	return id, true, nil
}

func (g *GuestTokens) SecretFor(ctx context.Context, orderID int64) (string, bool, error) {
	v, err := g.Redis.Get(ctx, fmt.Sprintf(KeyGuestOrder, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (g *GuestTokens) Revoke(ctx context.Context, secret string, orderID int64) error {
	return g.Redis.Del(ctx, fmt.Sprintf(KeyGuestToken, secret), fmt.Sprintf(KeyGuestOrder, orderID)).Err()
}
