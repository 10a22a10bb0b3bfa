package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
)

const defaultCleanupBatch = 100

// PostgresStore persists records in the idempotency_keys table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("idempotency: postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Reserve claims the key, taking over rows whose expiry has passed. When the key is live the stored
// record decides between replay, pending and fingerprint conflict.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	id := recordID(key)
	expires := now.Add(normalizeTTL(ttl))

	const claim = `
INSERT INTO idempotency_keys (key, fingerprint, status, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $4, $5)
ON CONFLICT (key) DO UPDATE SET
    fingerprint = EXCLUDED.fingerprint,
    status = EXCLUDED.status,
    response_status = 0,
    response_headers = NULL,
    response_body = NULL,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
RETURNING created_at`

	var created time.Time
	err := s.pool.QueryRow(ctx, claim, id, fingerprint, string(StatusPending), now, expires).Scan(&created)
	switch {
	case err == nil:
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   expires,
		}}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Reservation{}, ppostgres.WrapError("idempotency.reserve", err)
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	record.Key = key
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse marks the key completed with the captured response.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()

	var headers []byte
	if sanitized := sanitizeHeaders(resp.Headers); sanitized != nil {
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		headers = encoded
	}

	const upsert = `
INSERT INTO idempotency_keys (key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
ON CONFLICT (key) DO UPDATE SET
    status = EXCLUDED.status,
    response_status = EXCLUDED.response_status,
    response_headers = EXCLUDED.response_headers,
    response_body = EXCLUDED.response_body,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`

	tag, err := s.pool.Exec(ctx, upsert,
		recordID(key), fingerprint, string(StatusCompleted), resp.Status, headers, cloneBody(resp.Body),
		now, now.Add(normalizeTTL(ttl)))
	if err != nil {
		return ppostgres.WrapError("idempotency.save", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release deletes a reservation owned by fingerprint so the client can retry.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND fingerprint = $2`, recordID(key), fingerprint)
	return ppostgres.WrapError("idempotency.release", err)
}

// CleanupExpired deletes at most limit expired rows.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupBatch
	}
	const stmt = `
DELETE FROM idempotency_keys
WHERE key IN (
    SELECT key FROM idempotency_keys
    WHERE expires_at <= $1
    ORDER BY expires_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)`
	tag, err := s.pool.Exec(ctx, stmt, now.UTC(), limit)
	if err != nil {
		return 0, ppostgres.WrapError("idempotency.cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, error) {
	const query = `
SELECT fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
FROM idempotency_keys
WHERE key = $1`

	var (
		record  Record
		status  string
		headers []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&record.Fingerprint, &status, &record.ResponseStatus, &headers, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if err != nil {
		return Record{}, ppostgres.WrapError("idempotency.load", err)
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}
