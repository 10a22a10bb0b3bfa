package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

const paymentColumns = `id, user_id, method, status, amount, currency,
	gateway_order_id, gateway_payment_id, gateway_signature, cart_snapshot, order_id,
	wallet_mobile, wallet_otp_hash, wallet_otp_expires_at, wallet_otp_verified_at,
	failure_reason, notes, created_at, updated_at, completed_at`

// PaymentRepository implements repositories.PaymentRepository on Postgres.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Postgres-backed payment repository.
func NewPaymentRepository(pool *pgxpool.Pool) (*PaymentRepository, error) {
	if pool == nil {
		return nil, errors.New("payment repository requires postgres pool")
	}
	return &PaymentRepository{pool: pool}, nil
}

// Insert stores a new payment record.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	snapshot, err := json.Marshal(payment.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}

	_, err = ppostgres.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		payment.ID, payment.UserID, string(payment.Method), string(payment.Status), payment.Amount, payment.Currency,
		payment.GatewayOrderID, payment.GatewayPaymentID, payment.GatewaySignature, snapshot, payment.OrderID,
		payment.WalletMobile, payment.WalletOTPHash, payment.WalletOTPExpiresAt, payment.WalletOTPVerifiedAt,
		payment.FailureReason, payment.Notes, payment.CreatedAt, payment.UpdatedAt, payment.CompletedAt,
	)
	return ppostgres.WrapError("payments.insert", err)
}

// Update persists the mutable payment fields. The cart snapshot is never rewritten.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	tag, err := ppostgres.Conn(ctx, r.pool).Exec(ctx, `UPDATE payments SET
			status = $2, gateway_order_id = $3, gateway_payment_id = $4, gateway_signature = $5,
			order_id = COALESCE(order_id, $6), wallet_mobile = $7, wallet_otp_hash = $8,
			wallet_otp_expires_at = $9, wallet_otp_verified_at = $10, failure_reason = $11,
			notes = $12, updated_at = $13, completed_at = $14
		WHERE id = $1`,
		payment.ID, string(payment.Status), payment.GatewayOrderID, payment.GatewayPaymentID, payment.GatewaySignature,
		payment.OrderID, payment.WalletMobile, payment.WalletOTPHash,
		payment.WalletOTPExpiresAt, payment.WalletOTPVerifiedAt, payment.FailureReason,
		payment.Notes, payment.UpdatedAt, payment.CompletedAt,
	)
	if err != nil {
		return ppostgres.WrapError("payments.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("payments.update")
	}
	return nil
}

// FindByID loads a payment without locking.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	row := ppostgres.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, ppostgres.WrapError("payments.find", err)
	}
	return payment, nil
}

// LockByID loads a payment with SELECT ... FOR UPDATE. Outside a transaction the lock is released
// immediately, so callers run it inside RunInTx.
func (r *PaymentRepository) LockByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	row := ppostgres.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, ppostgres.WrapError("payments.lock", err)
	}
	return payment, nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		payment  domain.Payment
		method   string
		status   string
		amount   decimal.Decimal
		snapshot []byte
		expires  *time.Time
		verified *time.Time
	)
	err := row.Scan(
		&payment.ID, &payment.UserID, &method, &status, &amount, &payment.Currency,
		&payment.GatewayOrderID, &payment.GatewayPaymentID, &payment.GatewaySignature, &snapshot, &payment.OrderID,
		&payment.WalletMobile, &payment.WalletOTPHash, &expires, &verified,
		&payment.FailureReason, &payment.Notes, &payment.CreatedAt, &payment.UpdatedAt, &payment.CompletedAt,
	)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := json.Unmarshal(snapshot, &payment.Snapshot); err != nil {
		return domain.Payment{}, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}
	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	payment.Amount = amount
	payment.WalletOTPExpiresAt = utcPtr(expires)
	payment.WalletOTPVerifiedAt = utcPtr(verified)
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()
	payment.CompletedAt = utcPtr(payment.CompletedAt)
	return payment, nil
}
