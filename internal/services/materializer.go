package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/observability"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

const tracerName = "github.com/hanko-field/checkout-engine/internal/services"

// OrderMaterializerDeps bundles collaborators for the order materializer.
type OrderMaterializerDeps struct {
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Inventory   repositories.InventoryRepository
	Counters    CounterService
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	Metrics     *observability.CheckoutMetrics
	Tracer      trace.Tracer
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderMaterializer struct {
	payments  repositories.PaymentRepository
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	inventory repositories.InventoryRepository
	counters  CounterService
	uow       repositories.UnitOfWork
	events    eventSink
	metrics   *observability.CheckoutMetrics
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderMaterializer constructs the component that turns a successful payment into its order.
func NewOrderMaterializer(deps OrderMaterializerDeps) (OrderMaterializer, error) {
	if deps.Payments == nil {
		return nil, errors.New("order materializer: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order materializer: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order materializer: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order materializer: inventory repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order materializer: counter service is required")
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &orderMaterializer{
		payments:  deps.Payments,
		orders:    deps.Orders,
		carts:     deps.Carts,
		inventory: deps.Inventory,
		counters:  deps.Counters,
		uow:       uow,
		events:    eventSink{publisher: deps.Events, logger: logger},
		metrics:   deps.Metrics,
		tracer:    tracer,
		now:       utcClock(deps.Clock),
		newID:     idGen,
		logger:    logger,
	}, nil
}

// Materialize creates the order for a successful payment, or returns the one already created.
func (m *orderMaterializer) Materialize(ctx context.Context, paymentID string) (domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "checkout.materialize",
		trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	payment, order, created, err := m.materialize(ctx, paymentID)
	method := string(payment.Method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		if errors.Is(err, ErrInsufficientStock) {
			m.metrics.Materialized(ctx, method, "insufficient_stock")
			m.metrics.ReconciliationRequired(ctx, method)
			m.logger(ctx, "checkout.materialize.insufficient_stock", map[string]any{
				"paymentID": paymentID,
				"method":    method,
				"error":     err.Error(),
			})
			m.events.publish(ctx, CheckoutEvent{
				Type:       EventReconciliationRequired,
				PaymentID:  paymentID,
				UserID:     payment.UserID,
				Method:     method,
				Status:     string(payment.Status),
				Reason:     ErrorCode(err),
				OccurredAt: m.now(),
			})
		} else {
			m.metrics.Materialized(ctx, method, "failed")
		}
		return domain.Order{}, wrapError("materialize", paymentID, "", err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Bool("order.created", created))
	if !created {
		m.metrics.Materialized(ctx, method, "existing")
		return order, nil
	}

	m.metrics.Materialized(ctx, method, "created")
	m.logger(ctx, "checkout.order.created", map[string]any{
		"paymentID":   paymentID,
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
	})
	m.events.publish(ctx, CheckoutEvent{
		Type:        EventOrderCreated,
		PaymentID:   paymentID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Method:      method,
		Status:      string(order.Status),
		OccurredAt:  order.CreatedAt,
		Metadata: map[string]any{
			"total":          order.Total.StringFixed(2),
			"currency":       order.Currency,
			"payment_status": string(order.PaymentStatus),
		},
	})
	return order, nil
}

func (m *orderMaterializer) materialize(ctx context.Context, paymentID string) (domain.Payment, domain.Order, bool, error) {
	payment, err := m.payments.FindByID(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, domain.Order{}, false, mapRepositoryError(err, ErrPaymentNotFound)
	}
	if payment.Status != domain.PaymentStatusSuccessful {
		return payment, domain.Order{}, false, fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, payment.Status)
	}
	if payment.Materialized() {
		order, err := m.existingOrder(ctx, payment)
		return payment, order, false, err
	}

	number, err := m.counters.NextOrderNumber(ctx)
	if err != nil {
		return payment, domain.Order{}, false, fmt.Errorf("allocate order number: %w", err)
	}

	var (
		order   domain.Order
		created bool
	)
	err = m.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := m.payments.LockByID(txCtx, paymentID)
		if err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}
		if locked.Status != domain.PaymentStatusSuccessful {
			return fmt.Errorf("%w: payment is %s", ErrInvalidStateTransition, locked.Status)
		}
		if locked.Materialized() {
			existing, err := m.existingOrder(txCtx, locked)
			if err != nil {
				return err
			}
			order = existing
			return nil
		}

		demands := stockDemands(locked.Snapshot)
		for _, demand := range demands {
			ok, err := m.inventory.CheckStock(txCtx, demand.productID, demand.variantID, demand.quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrInsufficientStock, demand.key)
			}
		}

		now := m.now()
		candidate := buildOrder(locked, "ord_"+m.newID(), number, now)
		if err := m.orders.Insert(txCtx, candidate); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}

		for _, demand := range demands {
			if err := m.inventory.DecrementStock(txCtx, demand.productID, demand.variantID, demand.quantity); err != nil {
				var invErr *repositories.InventoryError
				if errors.As(err, &invErr) {
					return fmt.Errorf("%w: %s", ErrInsufficientStock, demand.key)
				}
				return err
			}
		}

		locked.OrderID = &candidate.ID
		locked.UpdatedAt = now
		if err := m.payments.Update(txCtx, locked); err != nil {
			return mapRepositoryError(err, ErrPaymentNotFound)
		}

		if err := m.clearSourceCart(txCtx, locked); err != nil {
			return err
		}

		order = candidate
		created = true
		return nil
	})
	if errors.Is(err, ErrConcurrencyConflict) {
		existing, findErr := m.orders.FindByPaymentID(ctx, paymentID)
		if findErr != nil {
			return payment, domain.Order{}, false, mapRepositoryError(findErr, ErrOrderNotFound)
		}
		return payment, existing, false, nil
	}
	if err != nil {
		return payment, domain.Order{}, false, err
	}
	return payment, order, created, nil
}

func (m *orderMaterializer) existingOrder(ctx context.Context, payment domain.Payment) (domain.Order, error) {
	order, err := m.orders.FindByID(ctx, *payment.OrderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

// clearSourceCart empties the live cart the snapshot came from, leaving carts of other users alone.
func (m *orderMaterializer) clearSourceCart(ctx context.Context, payment domain.Payment) error {
	cartID := payment.Snapshot.CartID
	if cartID == "" {
		return nil
	}
	cart, err := m.carts.GetCart(ctx, cartID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	if cart.UserID != payment.UserID {
		m.logger(ctx, "checkout.materialize.cart_owner_mismatch", map[string]any{
			"paymentID": payment.ID,
			"cartID":    cartID,
		})
		return nil
	}
	return m.carts.ClearCart(ctx, cartID)
}

func buildOrder(payment domain.Payment, orderID, number string, now time.Time) domain.Order {
	items := make([]domain.OrderItem, 0, len(payment.Snapshot.Items))
	for _, line := range payment.Snapshot.Items {
		items = append(items, domain.OrderItem{
			ProductID:           line.ProductID,
			VariantID:           cloneString(line.VariantID),
			Quantity:            line.Quantity,
			UnitPriceAtPurchase: line.UnitPrice,
			VariantSurcharge:    line.VariantSurcharge,
			LineTotal:           line.LineTotal(),
		})
	}
	paymentStatus := domain.OrderPaymentStatusPaid
	if payment.Method == domain.PaymentMethodCOD {
		paymentStatus = domain.OrderPaymentStatusCODPending
	}
	return domain.Order{
		ID:              orderID,
		OrderNumber:     number,
		UserID:          payment.UserID,
		PaymentID:       payment.ID,
		Items:           items,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   paymentStatus,
		Total:           payment.Snapshot.Total,
		Currency:        payment.Snapshot.Currency,
		ShippingAddress: payment.Snapshot.ShippingAddress,
		BillingAddress:  payment.Snapshot.BillingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
