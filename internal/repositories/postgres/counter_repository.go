package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

// CounterRepository implements atomic sequences with an upsert.
type CounterRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Postgres-backed counter repository.
func NewCounterRepository(pool *pgxpool.Pool) (*CounterRepository, error) {
	if pool == nil {
		return nil, errors.New("counter repository requires postgres pool")
	}
	return &CounterRepository{pool: pool}, nil
}

// Next increments counterID by step and returns the new value. The first call for a counter returns step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "step must be positive")
	}

	var value int64
	err := ppostgres.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO counters (id, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET value = counters.value + EXCLUDED.value, updated_at = now()
		RETURNING value`, counterID, step).Scan(&value)
	if err != nil {
		return 0, ppostgres.WrapError("counters.next", err)
	}
	return value, nil
}
