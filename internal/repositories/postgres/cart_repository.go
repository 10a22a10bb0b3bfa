package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

// CartRepository reads and clears live carts stored in Postgres.
type CartRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Postgres-backed cart repository.
func NewCartRepository(pool *pgxpool.Pool) (*CartRepository, error) {
	if pool == nil {
		return nil, errors.New("cart repository requires postgres pool")
	}
	return &CartRepository{pool: pool}, nil
}

// GetCart loads the cart header and its lines in insertion order.
func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	conn := ppostgres.Conn(ctx, r.pool)

	var cart domain.Cart
	err := conn.QueryRow(ctx, `SELECT id, user_id, currency, tax, shipping_charge, discount, updated_at
		FROM carts WHERE id = $1`, cartID).
		Scan(&cart.ID, &cart.UserID, &cart.Currency, &cart.Tax, &cart.ShippingCharge, &cart.Discount, &cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, ppostgres.WrapError("carts.get", err)
	}
	cart.UpdatedAt = cart.UpdatedAt.UTC()

	rows, err := conn.Query(ctx, `SELECT product_id, variant_id, quantity, unit_price, variant_surcharge
		FROM cart_items WHERE cart_id = $1 ORDER BY position`, cartID)
	if err != nil {
		return domain.Cart{}, ppostgres.WrapError("carts.items", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartItem, error) {
		var (
			item      domain.CartItem
			variantID string
		)
		if err := row.Scan(&item.ProductID, &variantID, &item.Quantity, &item.UnitPrice, &item.VariantSurcharge); err != nil {
			return domain.CartItem{}, err
		}
		item.VariantID = variantPtr(variantID)
		return item, nil
	})
	if err != nil {
		return domain.Cart{}, ppostgres.WrapError("carts.items", err)
	}
	cart.Items = items
	return cart, nil
}

// ClearCart deletes the cart lines. The cart row itself is retained so the user keeps the same cart id.
func (r *CartRepository) ClearCart(ctx context.Context, cartID string) error {
	conn := ppostgres.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return ppostgres.WrapError("carts.clear", err)
	}
	if _, err := conn.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return ppostgres.WrapError("carts.clear", err)
	}
	return nil
}
