package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in the idempotency_responses table. The
// claim is an in_flight row whose insert wins or loses on the primary
// key; a short expiry on the claim row bounds how long a crashed owner
// can wedge a key. Waiters poll like the Redis store does.
type PostgresStore struct {
	DB       *pgxpool.Pool
	ttl      time.Duration
	claimTTL time.Duration
	poll     time.Duration
}

func NewPostgresStore(db *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{
		DB:       db,
		ttl:      ttl,
		claimTTL: time.Minute,
		poll:     100 * time.Millisecond,
	}
}

func (s *PostgresStore) CheckAndReserve(ctx context.Context, key, requestHash string) (Status, *Record, chan struct{}, error) {
	for {
		now := time.Now().UTC()
		ct, err := s.DB.Exec(ctx, `
			INSERT INTO idempotency_responses (idem_key, request_hash, in_flight, status_code, created_at, expires_at)
			VALUES ($1, $2, true, 0, $3, $4)
			ON CONFLICT (idem_key) DO NOTHING`,
			key, requestHash, now, now.Add(s.claimTTL))
		if err != nil {
			return 0, nil, nil, err
		}
		if ct.RowsAffected() == 1 {
			return StatusMiss, nil, nil, nil
		}

		rec, inFlight, expiresAt, err := s.getRow(ctx, key)
		if errors.Is(err, pgx.ErrNoRows) {
			// owner released between insert and select; claim again
			continue
		}
		if err != nil {
			return 0, nil, nil, err
		}
		if now.After(expiresAt) {
			// expired record or abandoned claim; free the key and retry
			if _, err := s.DB.Exec(ctx,
				`DELETE FROM idempotency_responses WHERE idem_key=$1 AND expires_at <= now()`, key); err != nil {
				return 0, nil, nil, err
			}
			continue
		}
		if rec.RequestHash != requestHash {
			return StatusConflict, nil, nil, nil
		}
		if inFlight {
			return StatusInFlight, nil, nil, nil
		}
		return StatusCached, rec, nil, nil
	}
}

func (s *PostgresStore) WaitForResult(ctx context.Context, key string, _ chan struct{}) (*Record, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		rec, inFlight, expiresAt, err := s.getRow(ctx, key)
		if errors.Is(err, pgx.ErrNoRows) {
			// owner failed without caching
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !inFlight {
			return rec, nil
		}
		if time.Now().UTC().After(expiresAt) {
			// owner crashed holding the claim
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *PostgresStore) Complete(ctx context.Context, key string, rec *Record, _ chan struct{}) error {
	if rec.StatusCode >= http.StatusInternalServerError {
		return s.Fail(ctx, key, nil)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(s.ttl)
	_, err := s.DB.Exec(ctx, `
		UPDATE idempotency_responses
		SET in_flight=false, status_code=$2, response_body=$3, created_at=$4, expires_at=$5
		WHERE idem_key=$1`,
		key, rec.StatusCode, rec.Body, rec.CreatedAt, rec.ExpiresAt)
	return err
}

func (s *PostgresStore) Fail(ctx context.Context, key string, _ chan struct{}) error {
	_, err := s.DB.Exec(ctx,
		`DELETE FROM idempotency_responses WHERE idem_key=$1 AND in_flight`, key)
	return err
}

// Sweep deletes expired rows; cmd/api runs it on a ticker since nothing
// else touches a key that stopped being retried.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	ct, err := s.DB.Exec(ctx,
		`DELETE FROM idempotency_responses WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) getRow(ctx context.Context, key string) (*Record, bool, time.Time, error) {
	var (
		rec      Record
		inFlight bool
	)
	err := s.DB.QueryRow(ctx, `
		SELECT request_hash, in_flight, status_code, response_body, created_at, expires_at
		FROM idempotency_responses WHERE idem_key=$1`, key).
		Scan(&rec.RequestHash, &inFlight, &rec.StatusCode, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, false, time.Time{}, err
	}
	return &rec, inFlight, rec.ExpiresAt, nil
}

var _ Store = (*PostgresStore)(nil)
