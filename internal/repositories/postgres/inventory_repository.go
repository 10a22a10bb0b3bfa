package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

// InventoryRepository manages stock_levels rows shared with the offline-sale path.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a Postgres-backed inventory repository.
func NewInventoryRepository(pool *pgxpool.Pool) (*InventoryRepository, error) {
	if pool == nil {
		return nil, errors.New("inventory repository requires postgres pool")
	}
	return &InventoryRepository{pool: pool}, nil
}

// CheckStock reports whether at least quantity units are on hand. A missing stock row counts as zero.
func (r *InventoryRepository) CheckStock(ctx context.Context, productID string, variantID *string, quantity int) (bool, error) {
	var onHand int
	err := ppostgres.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT on_hand FROM stock_levels WHERE product_id = $1 AND variant_id = $2`,
		productID, variantValue(variantID),
	).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ppostgres.WrapError("stock.check", err)
	}
	return onHand >= quantity, nil
}

// DecrementStock subtracts quantity with a floor at zero. The guard and the write are a single
// statement so concurrent decrements can never drive on_hand negative.
func (r *InventoryRepository) DecrementStock(ctx context.Context, productID string, variantID *string, quantity int) error {
	if quantity <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, variantID,
			errors.New("quantity must be positive"))
	}

	conn := ppostgres.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `UPDATE stock_levels SET on_hand = on_hand - $3, updated_at = now()
		WHERE product_id = $1 AND variant_id = $2 AND on_hand >= $3`,
		productID, variantValue(variantID), quantity,
	)
	if err != nil {
		return ppostgres.WrapError("stock.decrement", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_levels WHERE product_id = $1 AND variant_id = $2)`,
		productID, variantValue(variantID)).Scan(&exists); err != nil {
		return ppostgres.WrapError("stock.decrement", err)
	}
	code := repositories.InventoryErrorInsufficientStock
	if !exists {
		code = repositories.InventoryErrorStockNotFound
	}
	invErr := repositories.NewInventoryError(code, productID, variantID, nil)
	invErr.Op = "stock.decrement"
	return invErr
}
