package redisx

import "time"

const (
	// Response cache per idempotency key: idem:{key|method|path} -> Record JSON
	KeyIdempotency = "idem:%s"

	// Claim in-flight per idempotency key: idem:{key|method|path}:lock -> request hash
	KeyIdempotencyLock = "idem:%s:lock"

	// Dedup webhook event: webhook:event:{merchant_id}:{event_id} -> status
	KeyWebhookEvent = "webhook:event:%s:%s"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLIdemClaim    = time.Minute
	TTLWebhookDedup = 48 * time.Hour
)
