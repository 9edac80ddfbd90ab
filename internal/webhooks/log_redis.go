package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/redisx"
)

// RedisEventLog stores event records as JSON values under
// webhook:event:<merchant_id>:<event_id>. SETNX gives the atomic claim;
// the dedup window is bounded by the key TTL rather than a sweeper.
type RedisEventLog struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisEventLog(rdb *redis.Client) *RedisEventLog {
	return &RedisEventLog{rdb: rdb, ttl: redisx.TTLWebhookDedup}
}

func (l *RedisEventLog) key(merchantID, eventID string) string {
	return fmt.Sprintf(redisx.KeyWebhookEvent, merchantID, eventID)
}

func (l *RedisEventLog) Claim(ctx context.Context, rec *EventRecord) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return l.rdb.SetNX(ctx, l.key(rec.MerchantID, rec.EventID), b, l.ttl).Result()
}

func (l *RedisEventLog) Resolve(ctx context.Context, merchantID, eventID string, status EventStatus, errorMessage string) error {
	key := l.key(merchantID, eventID)
	rec, err := l.load(ctx, key, eventID)
	if err != nil {
		return err
	}
	rec.Status = status
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	if status == StatusProcessed {
		t := time.Now().UTC()
		rec.ProcessedAt = &t
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Keep the TTL set at claim time; the dedup window counts from receipt.
	return l.rdb.Set(ctx, key, b, redis.KeepTTL).Err()
}

func (l *RedisEventLog) Get(ctx context.Context, merchantID, eventID string) (*EventRecord, error) {
	return l.load(ctx, l.key(merchantID, eventID), eventID)
}

func (l *RedisEventLog) load(ctx context.Context, key, eventID string) (*EventRecord, error) {
	b, err := l.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound(apperr.CodeEventNotFound, "event", eventID)
	}
	if err != nil {
		return nil, err
	}
	var rec EventRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ EventLog = (*RedisEventLog)(nil)
