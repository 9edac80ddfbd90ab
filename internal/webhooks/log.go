package webhooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

type EventStatus string

const (
	StatusProcessing EventStatus = "processing"
	StatusProcessed  EventStatus = "processed"
	StatusFailed     EventStatus = "failed"
	StatusDuplicate  EventStatus = "duplicate"
	// StatusIgnored is returned for unknown event types. It only appears
	// in results; ignored events are never written to the log.
	StatusIgnored EventStatus = "ignored"
)

// EventRecord is one delivery in the event log, keyed by
// (merchant_id, event_id).
type EventRecord struct {
	EventID       string          `json:"event_id"`
	MerchantID    string          `json:"merchant_id"`
	EventType     string          `json:"event_type"`
	Status        EventStatus     `json:"status"`
	PayloadHash   string          `json:"payload_hash"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

func (r *EventRecord) clone() *EventRecord {
	cp := *r
	cp.Payload = append(json.RawMessage(nil), r.Payload...)
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// EventLog stores webhook deliveries for dedup and inspection.
//
// Claim is the atomic check-and-reserve: exactly one concurrent caller for
// a given (merchant_id, event_id) gets true; everyone else sees the pair
// as already claimed, whatever status it ended up in. Failed events are
// deliberately not reclaimable; redelivery of the same event id is a
// duplicate, full stop.
type EventLog interface {
	Claim(ctx context.Context, rec *EventRecord) (bool, error)
	Resolve(ctx context.Context, merchantID, eventID string, status EventStatus, errorMessage string) error
	Get(ctx context.Context, merchantID, eventID string) (*EventRecord, error)
}

// MemoryEventLog keeps the log in a map. Good for dev and tests; the
// Redis variant is what multi-instance deployments use.
type MemoryEventLog struct {
	mu     sync.Mutex
	events map[string]*EventRecord
	now    func() time.Time
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		events: make(map[string]*EventRecord),
		now:    time.Now,
	}
}

func logKey(merchantID, eventID string) string {
	return merchantID + ":" + eventID
}

func (l *MemoryEventLog) Claim(_ context.Context, rec *EventRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := logKey(rec.MerchantID, rec.EventID)
	if _, ok := l.events[key]; ok {
		return false, nil
	}
	l.events[key] = rec.clone()
	return true, nil
}

func (l *MemoryEventLog) Resolve(_ context.Context, merchantID, eventID string, status EventStatus, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.events[logKey(merchantID, eventID)]
	if !ok {
		return apperr.NotFound(apperr.CodeEventNotFound, "event", eventID)
	}
	rec.Status = status
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	if status == StatusProcessed {
		t := l.now()
		rec.ProcessedAt = &t
	}
	return nil
}

func (l *MemoryEventLog) Get(_ context.Context, merchantID, eventID string) (*EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.events[logKey(merchantID, eventID)]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeEventNotFound, "event", eventID)
	}
	return rec.clone(), nil
}

// Sweep drops records received more than maxAge ago and returns how many
// went. Dedup only needs to outlive the merchant's retry window; cmd/api
// calls this on a ticker, the Redis variant relies on key TTLs.
func (l *MemoryEventLog) Sweep(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxAge)
	n := 0
	for key, rec := range l.events {
		if rec.ReceivedAt.Before(cutoff) {
			delete(l.events, key)
			n++
		}
	}
	return n
}

var _ EventLog = (*MemoryEventLog)(nil)
