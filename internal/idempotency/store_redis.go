package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-agent-checkout.git/internal/redisx"
)

// RedisStore shares idempotency state across replicas. The claim is a
// SETNX lock holding the request hash; waiters poll for the stored record
// instead of blocking on a channel, and the lock's own TTL bounds how long
// a crashed owner can wedge a key.
type RedisStore struct {
	rdb      *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
	poll     time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		rdb:      rdb,
		ttl:      ttl,
		claimTTL: redisx.TTLIdemClaim,
		poll:     100 * time.Millisecond,
	}
}

func recordKey(key string) string { return fmt.Sprintf(redisx.KeyIdempotency, key) }
func lockKey(key string) string   { return fmt.Sprintf(redisx.KeyIdempotencyLock, key) }

func (s *RedisStore) CheckAndReserve(ctx context.Context, key, requestHash string) (Status, *Record, chan struct{}, error) {
	rec, err := s.getRecord(ctx, key)
	if err != nil {
		return 0, nil, nil, err
	}
	if rec != nil {
		if rec.RequestHash != requestHash {
			return StatusConflict, nil, nil, nil
		}
		return StatusCached, rec, nil, nil
	}

	ok, err := s.rdb.SetNX(ctx, lockKey(key), requestHash, s.claimTTL).Result()
	if err != nil {
		return 0, nil, nil, err
	}
	if ok {
		return StatusMiss, nil, nil, nil
	}

	held, err := s.rdb.Get(ctx, lockKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// owner released between SETNX and GET; treat as in-flight so
		// the caller loops back into CheckAndReserve
		return StatusInFlight, nil, nil, nil
	}
	if err != nil {
		return 0, nil, nil, err
	}
	if held != requestHash {
		return StatusConflict, nil, nil, nil
	}
	return StatusInFlight, nil, nil, nil
}

func (s *RedisStore) WaitForResult(ctx context.Context, key string, _ chan struct{}) (*Record, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		rec, err := s.getRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
		locked, err := redisx.Exists(ctx, s.rdb, lockKey(key))
		if err != nil {
			return nil, err
		}
		if !locked {
			// owner failed or crashed without caching
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec *Record, _ chan struct{}) error {
	if rec.StatusCode < http.StatusInternalServerError {
		now := time.Now().UTC()
		rec.CreatedAt = now
		rec.ExpiresAt = now.Add(s.ttl)
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := s.rdb.Set(ctx, recordKey(key), raw, s.ttl).Err(); err != nil {
			return err
		}
	}
	return s.rdb.Del(ctx, lockKey(key)).Err()
}

func (s *RedisStore) Fail(ctx context.Context, key string, _ chan struct{}) error {
	return s.rdb.Del(ctx, lockKey(key)).Err()
}

func (s *RedisStore) getRecord(ctx context.Context, key string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ Store = (*RedisStore)(nil)
