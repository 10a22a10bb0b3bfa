package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	ppostgres "github.com/hanko-field/checkout-engine/internal/platform/postgres"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

const (
	orderColumns = `id, order_number, user_id, payment_id, status, payment_status,
	shipping_partner, tracking_id, shipment_id, total, currency, shipping_address, billing_address, notes,
	accepted_at, shipping_assigned_at, delivered_at, cancelled_at, created_at, updated_at`

	orderPaymentConstraint = "orders_payment_id_key"
)

// OrderRepository implements repositories.OrderRepository on Postgres.
type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("order repository requires postgres pool")
	}
	return &OrderRepository{pool: pool}, nil
}

// Insert stores the order and its items. A second order for the same payment is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	shipping, billing, notes, err := marshalOrderDocuments(order)
	if err != nil {
		return err
	}

	_, err = withTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			order.ID, order.OrderNumber, order.UserID, order.PaymentID, string(order.Status), string(order.PaymentStatus),
			order.ShippingPartner, order.TrackingID, order.ShipmentID, order.Total, order.Currency, shipping, billing, notes,
			order.AcceptedAt, order.ShippingAssignedAt, order.DeliveredAt, order.CancelledAt, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return struct{}{}, err
		}

		batch := &pgx.Batch{}
		for i, item := range order.Items {
			batch.Queue(`INSERT INTO order_items (order_id, position, product_id, variant_id, quantity,
					unit_price_at_purchase, variant_surcharge, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				order.ID, i, item.ProductID, variantValue(item.VariantID), item.Quantity,
				item.UnitPriceAtPurchase, item.VariantSurcharge, item.LineTotal,
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		if ppostgres.IsUniqueViolation(err, orderPaymentConstraint) {
			return ppostgres.WrapError("orders.insert", fmt.Errorf("order for payment %s already exists: %w", order.PaymentID, err))
		}
		return ppostgres.WrapError("orders.insert", err)
	}
	return nil
}

// Update persists fulfillment fields. Items, totals and addresses are immutable after insert.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	notes, err := json.Marshal(nonNilNotes(order.Notes))
	if err != nil {
		return fmt.Errorf("marshal order notes: %w", err)
	}
	tag, err := ppostgres.Conn(ctx, r.pool).Exec(ctx, `UPDATE orders SET
			status = $2, shipping_partner = $3, tracking_id = $4, shipment_id = $5, notes = $6,
			accepted_at = $7, shipping_assigned_at = $8, delivered_at = $9, cancelled_at = $10, updated_at = $11
		WHERE id = $1`,
		order.ID, string(order.Status), order.ShippingPartner, order.TrackingID, order.ShipmentID, notes,
		order.AcceptedAt, order.ShippingAssignedAt, order.DeliveredAt, order.CancelledAt, order.UpdatedAt,
	)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.update")
	}
	return nil
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, "orders.find", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

// LockByID loads an order holding a row lock for the surrounding transaction.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, "orders.lock", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
}

// FindByPaymentID loads the order materialized from a payment.
func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.Order, error) {
	return r.find(ctx, "orders.find_by_payment", `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID)
}

func (r *OrderRepository) find(ctx context.Context, op, query string, arg string) (domain.Order, error) {
	conn := ppostgres.Conn(ctx, r.pool)
	order, err := scanOrder(conn.QueryRow(ctx, query, arg))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}

	rows, err := conn.Query(ctx, `SELECT product_id, variant_id, quantity, unit_price_at_purchase, variant_surcharge, line_total
		FROM order_items WHERE order_id = $1 ORDER BY position`, order.ID)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op+".items", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var (
			item      domain.OrderItem
			variantID string
		)
		if err := row.Scan(&item.ProductID, &variantID, &item.Quantity, &item.UnitPriceAtPurchase, &item.VariantSurcharge, &item.LineTotal); err != nil {
			return domain.OrderItem{}, err
		}
		item.VariantID = variantPtr(variantID)
		return item, nil
	})
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op+".items", err)
	}
	order.Items = items
	return order, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		total         decimal.Decimal
		shipping      []byte
		billing       []byte
		notes         []byte
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.PaymentID, &status, &paymentStatus,
		&order.ShippingPartner, &order.TrackingID, &order.ShipmentID, &total, &order.Currency, &shipping, &billing, &notes,
		&order.AcceptedAt, &order.ShippingAssignedAt, &order.DeliveredAt, &order.CancelledAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal billing address: %w", err)
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &order.Notes); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal order notes: %w", err)
		}
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.OrderPaymentStatus(paymentStatus)
	order.Total = total
	order.AcceptedAt = utcPtr(order.AcceptedAt)
	order.ShippingAssignedAt = utcPtr(order.ShippingAssignedAt)
	order.DeliveredAt = utcPtr(order.DeliveredAt)
	order.CancelledAt = utcPtr(order.CancelledAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func marshalOrderDocuments(order domain.Order) (shipping, billing, notes []byte, err error) {
	if shipping, err = json.Marshal(order.ShippingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	if billing, err = json.Marshal(order.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal billing address: %w", err)
	}
	if notes, err = json.Marshal(nonNilNotes(order.Notes)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal order notes: %w", err)
	}
	return shipping, billing, notes, nil
}

func nonNilNotes(notes []domain.OrderNote) []domain.OrderNote {
	if notes == nil {
		return []domain.OrderNote{}
	}
	return notes
}
