// Package redisx holds the shared Redis client plus the key and TTL
// scheme for the idempotency store and the webhook event log.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// New builds a client with bounded timeouts. Every caller stores small
// values (cached responses, dedup markers), so a slow Redis should fail
// the one request rather than pile up goroutines.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping verifies the connection within a short deadline so startup fails
// fast on a bad address.
func Ping(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}
