package webhooks

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// PostgresEventLog keeps deliveries in the event_log table. The primary
// key on (merchant_id, event_id) is what makes Claim atomic: the insert
// either lands or collides with the existing row.
type PostgresEventLog struct{ DB *pgxpool.Pool }

func NewPostgresEventLog(db *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{DB: db}
}

func (l *PostgresEventLog) Claim(ctx context.Context, rec *EventRecord) (bool, error) {
	ct, err := l.DB.Exec(ctx, `
		INSERT INTO event_log (merchant_id, event_id, event_type, status, payload_hash,
			payload, error_message, correlation_id, received_at, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (merchant_id, event_id) DO NOTHING`,
		rec.MerchantID, rec.EventID, rec.EventType, string(rec.Status), rec.PayloadHash,
		[]byte(rec.Payload), rec.ErrorMessage, rec.CorrelationID, rec.ReceivedAt, rec.ProcessedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (l *PostgresEventLog) Resolve(ctx context.Context, merchantID, eventID string, status EventStatus, errorMessage string) error {
	ct, err := l.DB.Exec(ctx, `
		UPDATE event_log
		SET status=$3,
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			processed_at = CASE WHEN $3 = 'processed' THEN now() ELSE processed_at END
		WHERE merchant_id=$1 AND event_id=$2`,
		merchantID, eventID, string(status), errorMessage)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound(apperr.CodeEventNotFound, "event", eventID)
	}
	return nil
}

func (l *PostgresEventLog) Get(ctx context.Context, merchantID, eventID string) (*EventRecord, error) {
	var (
		rec     EventRecord
		payload []byte
	)
	err := l.DB.QueryRow(ctx, `
		SELECT event_id, merchant_id, event_type, status, payload_hash, payload,
			error_message, correlation_id, received_at, processed_at
		FROM event_log WHERE merchant_id=$1 AND event_id=$2`, merchantID, eventID).
		Scan(&rec.EventID, &rec.MerchantID, &rec.EventType, &rec.Status, &rec.PayloadHash,
			&payload, &rec.ErrorMessage, &rec.CorrelationID, &rec.ReceivedAt, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeEventNotFound, "event", eventID)
	}
	if err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

var _ EventLog = (*PostgresEventLog)(nil)
