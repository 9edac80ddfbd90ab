package idempotency

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// MemoryStore keeps records and in-flight claims in process. Fine for a
// single instance; use RedisStore when running more than one replica.
// Expired records are dropped lazily on read and swept on Complete.
type MemoryStore struct {
	mu       sync.Mutex
	results  map[string]*Record
	inFlight map[string]*claim
	ttl      time.Duration
	now      func() time.Time
}

type claim struct {
	requestHash string
	done        chan struct{}
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		results:  make(map[string]*Record),
		inFlight: make(map[string]*claim),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) CheckAndReserve(_ context.Context, key, requestHash string) (Status, *Record, chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.results[key]; ok {
		if s.now().Before(rec.ExpiresAt) {
			if rec.RequestHash != requestHash {
				return StatusConflict, nil, nil, nil
			}
			return StatusCached, rec, nil, nil
		}
		delete(s.results, key)
	}

	if c, ok := s.inFlight[key]; ok {
		if c.requestHash != requestHash {
			return StatusConflict, nil, nil, nil
		}
		return StatusInFlight, nil, c.done, nil
	}

	done := make(chan struct{})
	s.inFlight[key] = &claim{requestHash: requestHash, done: done}
	return StatusMiss, nil, done, nil
}

func (s *MemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*Record, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec *Record, done chan struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.StatusCode < http.StatusInternalServerError {
		now := s.now()
		rec.CreatedAt = now
		rec.ExpiresAt = now.Add(s.ttl)
		s.results[key] = rec
	}
	delete(s.inFlight, key)
	close(done)
	s.cleanupExpiredLocked()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, key string, done chan struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	close(done)
	return nil
}

func (s *MemoryStore) get(key string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.results[key]
	if !ok || s.now().After(rec.ExpiresAt) {
		return nil
	}
	return rec
}

// cleanupExpiredLocked drops expired records. Caller holds the lock.
func (s *MemoryStore) cleanupExpiredLocked() {
	now := s.now()
	for key, rec := range s.results {
		if now.After(rec.ExpiresAt) {
			delete(s.results, key)
		}
	}
}

// Sweep drops expired records eagerly. cmd/api runs it on a ticker so a
// quiet instance does not hold a day of responses; Redis handles this with
// key TTLs instead.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()
}

var _ Store = (*MemoryStore)(nil)
