package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
)

// Registry exposes repository implementations used by the service layer.
type Registry interface {
	Close(ctx context.Context) error

	Payments() PaymentRepository
	Orders() OrderRepository
	Carts() CartRepository
	Inventory() InventoryRepository
	Wallets() WalletRepository
	Counters() CounterRepository
	Health() HealthRepository

	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories invoked with the context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentRepository persists payment records. Payments are never deleted.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	// LockByID loads the payment holding a row lock until the surrounding transaction ends.
	LockByID(ctx context.Context, paymentID string) (domain.Payment, error)
}

// OrderRepository persists orders and their items. Insert must report a conflict when an order for
// the same payment already exists.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	LockByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (domain.Order, error)
}

// CartRepository is the boundary to the live cart collaborator.
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (domain.Cart, error)
	// ClearCart empties the cart's items while keeping the cart itself. Missing carts are a no-op.
	ClearCart(ctx context.Context, cartID string) error
}

// InventoryRepository is the boundary to the stock counters shared with the offline-sale path.
type InventoryRepository interface {
	CheckStock(ctx context.Context, productID string, variantID *string, quantity int) (bool, error)
	// DecrementStock subtracts quantity only when enough stock remains, returning an InventoryError
	// with InventoryErrorInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID string, variantID *string, quantity int) error
}

// WalletRepository manages mobile-linked wallet balances.
type WalletRepository interface {
	FindByMobile(ctx context.Context, mobile string) (domain.WalletAccount, error)
	// Debit subtracts amount only when the balance covers it, returning a WalletError otherwise.
	Debit(ctx context.Context, mobile string, amount decimal.Decimal) (domain.WalletAccount, error)
}

// CounterRepository provides atomic sequences.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository reports the readiness of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
