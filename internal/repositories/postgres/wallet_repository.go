package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

// WalletRepository manages wallet_accounts balances.
type WalletRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.WalletRepository = (*WalletRepository)(nil)

// NewWalletRepository constructs a Postgres-backed wallet repository.
func NewWalletRepository(pool *pgxpool.Pool) (*WalletRepository, error) {
	if pool == nil {
		return nil, errors.New("wallet repository requires postgres pool")
	}
	return &WalletRepository{pool: pool}, nil
}

// FindByMobile loads the wallet linked to a mobile number.
func (r *WalletRepository) FindByMobile(ctx context.Context, mobile string) (domain.WalletAccount, error) {
	account, err := scanWallet(ppostgres.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT mobile, user_id, balance, currency, updated_at FROM wallet_accounts WHERE mobile = $1`, mobile))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorAccountNotFound, mobile)
	}
	if err != nil {
		return domain.WalletAccount{}, ppostgres.WrapError("wallets.find", err)
	}
	return account, nil
}

// Debit subtracts amount when the balance covers it and returns the updated account.
func (r *WalletRepository) Debit(ctx context.Context, mobile string, amount decimal.Decimal) (domain.WalletAccount, error) {
	if !amount.IsPositive() {
		return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorInvalidAmount, mobile)
	}

	account, err := scanWallet(ppostgres.Conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE wallet_accounts SET balance = balance - $2, updated_at = now()
		WHERE mobile = $1 AND balance >= $2
		RETURNING mobile, user_id, balance, currency, updated_at`, mobile, amount))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.WalletAccount{}, ppostgres.WrapError("wallets.debit", err)
	}

	if _, findErr := r.FindByMobile(ctx, mobile); findErr != nil {
		return domain.WalletAccount{}, findErr
	}
	return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorInsufficientFunds, mobile)
}

func scanWallet(row pgx.Row) (domain.WalletAccount, error) {
	var account domain.WalletAccount
	if err := row.Scan(&account.Mobile, &account.UserID, &account.Balance, &account.Currency, &account.UpdatedAt); err != nil {
		return domain.WalletAccount{}, err
	}
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}
