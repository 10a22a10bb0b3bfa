package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

// Registry wires every Postgres repository around a shared pool and transaction manager.
type Registry struct {
	pool *pgxpool.Pool
	tx   *ppostgres.TxManager

	payments  *PaymentRepository
	orders    *OrderRepository
	carts     *CartRepository
	inventory *InventoryRepository
	wallets   *WalletRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository registry. Extra dependency checks (for example Redis) are
// reported alongside the database probe on readiness.
func NewRegistry(pool *pgxpool.Pool, checks ...repositories.DependencyCheck) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry: pool is required")
	}

	reg := &Registry{pool: pool, tx: ppostgres.NewTxManager(pool)}
	var err error
	if reg.payments, err = NewPaymentRepository(pool); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(pool); err != nil {
		return nil, err
	}
	if reg.carts, err = NewCartRepository(pool); err != nil {
		return nil, err
	}
	if reg.inventory, err = NewInventoryRepository(pool); err != nil {
		return nil, err
	}
	if reg.wallets, err = NewWalletRepository(pool); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(pool); err != nil {
		return nil, err
	}

	all := append([]repositories.DependencyCheck{{
		Name:  "postgres",
		Check: pool.Ping,
	}}, checks...)
	reg.health, err = repositories.NewDependencyHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("postgres registry: %w", err)
	}
	return reg, nil
}

// Close releases the pool.
func (r *Registry) Close(context.Context) error {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// RunInTx delegates to the transaction manager.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.tx.RunInTx(ctx, fn)
}

func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Wallets() repositories.WalletRepository { return r.wallets }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
