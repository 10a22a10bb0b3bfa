package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/observability"
	"github.com/hanko-field/checkout-engine/internal/repositories"
	"github.com/hanko-field/checkout-engine/internal/shipping"
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:          {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
	domain.OrderStatusAccepted:         {domain.OrderStatusShippingAssigned, domain.OrderStatusCancelled},
	domain.OrderStatusShippingAssigned: {domain.OrderStatusDelivered},
}

// FulfillmentServiceDeps bundles collaborators for admin order transitions.
type FulfillmentServiceDeps struct {
	Orders     repositories.OrderRepository
	Shipments  shipping.Provider
	UnitOfWork repositories.UnitOfWork
	Events     EventPublisher
	Metrics    *observability.CheckoutMetrics
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders    repositories.OrderRepository
	shipments shipping.Provider
	uow       repositories.UnitOfWork
	events    eventSink
	metrics   *observability.CheckoutMetrics
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs the admin fulfillment state machine. Shipments is optional.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &fulfillmentService{
		orders:    deps.Orders,
		shipments: deps.Shipments,
		uow:       uow,
		events:    eventSink{publisher: deps.Events, logger: logger},
		metrics:   deps.Metrics,
		now:       utcClock(deps.Clock),
		logger:    logger,
	}, nil
}

func (s *fulfillmentService) Accept(ctx context.Context, cmd AcceptOrderCommand) (domain.Order, error) {
	return s.transition(ctx, "accept_order", cmd.OrderID, cmd.ActorID, domain.OrderStatusAccepted, cmd.Notes,
		func(order *domain.Order, now time.Time) error {
			order.AcceptedAt = &now
			return nil
		})
}

func (s *fulfillmentService) AssignShipping(ctx context.Context, cmd AssignShippingCommand) (domain.Order, error) {
	partner := strings.TrimSpace(cmd.ShippingPartner)
	tracking := strings.TrimSpace(cmd.TrackingID)
	if partner == "" || tracking == "" {
		return domain.Order{}, wrapError("assign_shipping", "", cmd.OrderID,
			fmt.Errorf("%w: shipping partner and tracking id are required", ErrInvalidInput))
	}

	order, err := s.transition(ctx, "assign_shipping", cmd.OrderID, cmd.ActorID, domain.OrderStatusShippingAssigned, cmd.Notes,
		func(order *domain.Order, now time.Time) error {
			order.ShippingPartner = &partner
			order.TrackingID = &tracking
			order.ShippingAssignedAt = &now
			return nil
		})
	if err != nil {
		return domain.Order{}, err
	}
	return s.registerShipment(ctx, order), nil
}

func (s *fulfillmentService) MarkDelivered(ctx context.Context, cmd MarkDeliveredCommand) (domain.Order, error) {
	return s.transition(ctx, "mark_delivered", cmd.OrderID, cmd.ActorID, domain.OrderStatusDelivered, cmd.Notes,
		func(order *domain.Order, now time.Time) error {
			order.DeliveredAt = &now
			return nil
		})
}

func (s *fulfillmentService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	return s.transition(ctx, "cancel_order", cmd.OrderID, cmd.ActorID, domain.OrderStatusCancelled, cmd.Reason,
		func(order *domain.Order, now time.Time) error {
			order.CancelledAt = &now
			return nil
		})
}

func (s *fulfillmentService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, wrapError("get_order", "", "", fmt.Errorf("%w: order id is required", ErrInvalidInput))
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, wrapError("get_order", "", orderID, mapRepositoryError(err, ErrOrderNotFound))
	}
	return order, nil
}

func (s *fulfillmentService) transition(
	ctx context.Context,
	op, orderID, actorID string,
	next domain.OrderStatus,
	note string,
	apply func(*domain.Order, time.Time) error,
) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, wrapError(op, "", "", fmt.Errorf("%w: order id is required", ErrInvalidInput))
	}
	note = sanitizeNote(note)

	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		if !slices.Contains(orderTransitions[order.Status], next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, order.Status, next)
		}
		now := s.now()
		previous = order.Status
		order.Status = next
		if err := apply(&order, now); err != nil {
			return err
		}
		if note != "" {
			order.Notes = append(order.Notes, domain.OrderNote{
				Status:    next,
				Note:      note,
				ActorID:   strings.TrimSpace(actorID),
				CreatedAt: now,
			})
		}
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapError(op, "", orderID, err)
	}

	s.metrics.OrderTransition(ctx, string(next))
	s.logger(ctx, "fulfillment.order.transitioned", map[string]any{
		"orderID": updated.ID,
		"from":    string(previous),
		"to":      string(next),
		"actorID": actorID,
	})
	s.events.publish(ctx, CheckoutEvent{
		Type:           orderStatusEvent(string(next)),
		PaymentID:      updated.PaymentID,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		Status:         string(next),
		ActorID:        actorID,
		Reason:         note,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

// registerShipment calls the shipping partner outside any transaction. Failures leave the order as
// assigned without a shipment id.
func (s *fulfillmentService) registerShipment(ctx context.Context, order domain.Order) domain.Order {
	if s.shipments == nil {
		return order
	}
	shipment, err := s.shipments.CreateShipment(ctx, order)
	if err != nil {
		s.logger(ctx, "fulfillment.shipment.failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
		return order
	}
	if strings.TrimSpace(shipment.ShipmentID) == "" {
		return order
	}

	var stored domain.Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.orders.LockByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		if locked.ShipmentID != nil {
			stored = locked
			return nil
		}
		locked.ShipmentID = &shipment.ShipmentID
		locked.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, locked); err != nil {
			return err
		}
		stored = locked
		return nil
	})
	if err != nil {
		s.logger(ctx, "fulfillment.shipment.persist_failed", map[string]any{
			"orderID":    order.ID,
			"shipmentID": shipment.ShipmentID,
			"error":      err.Error(),
		})
		return order
	}
	return stored
}
