// Package idempotency stores one response per (key, method, path) so a
// retried mutating request replays the original outcome instead of
// executing twice. Backends must make check-and-reserve atomic: the first
// caller claims the key, late arrivals wait for or replay its result.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultTTL is how long a stored response keeps replaying before the key
// may be reused for a fresh execution.
const DefaultTTL = 24 * time.Hour

type Status int

const (
	// StatusMiss: no record and no claim. The key is now reserved; the
	// caller executes, then calls Complete or Fail.
	StatusMiss Status = iota
	// StatusCached: a stored response exists for the same request body.
	StatusCached
	// StatusInFlight: an identical request is executing right now.
	StatusInFlight
	// StatusConflict: the key was already used with a different body.
	StatusConflict
)

// Record is the stored outcome of one executed request, replayed verbatim
// on retry.
type Record struct {
	StatusCode  int       `json:"status_code"`
	Body        []byte    `json:"body"`
	RequestHash string    `json:"request_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store is the idempotency backend. Implementations must be safe for
// concurrent use. The done channel ties a reservation to its release; a
// backend that waits by polling may return nil channels throughout.
type Store interface {
	// CheckAndReserve atomically resolves the key:
	//   StatusMiss     reserved; execute and pass done to Complete/Fail
	//   StatusCached   replay the returned record
	//   StatusInFlight wait via WaitForResult
	//   StatusConflict reject, same key with a different request body
	CheckAndReserve(ctx context.Context, key, requestHash string) (Status, *Record, chan struct{}, error)

	// WaitForResult blocks until the in-flight owner finishes. A nil
	// record with a nil error means the owner gave up without caching;
	// the caller should reserve again.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*Record, error)

	// Complete stores the outcome and releases the claim. Server errors
	// (status >= 500) only release, so a retry re-executes for real.
	Complete(ctx context.Context, key string, rec *Record, done chan struct{}) error

	// Fail releases the claim without storing anything.
	Fail(ctx context.Context, key string, done chan struct{}) error
}

// Key joins the client's idempotency key with method and path, so reusing
// one key across different operations never collides.
func Key(key, method, path string) string {
	return key + "|" + method + "|" + path
}

// RequestHash hashes the canonicalized request body. JSON bodies are
// decoded and re-encoded so formatting and key order do not change the
// hash; anything else hashes as raw bytes.
func RequestHash(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return hashBytes(nil)
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return hashBytes(trimmed)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return hashBytes(trimmed)
	}
	return hashBytes(canonical)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
