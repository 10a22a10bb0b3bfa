package services

import (
	"context"
	"time"
)

const (
	EventOrderCreated           = "order.created"
	EventReconciliationRequired = "payment.reconciliation_required"
	EventPaymentSucceeded       = "payment.successful"
	EventPaymentFailed          = "payment.failed"
	EventPaymentCancelled       = "payment.cancelled"
)

// CheckoutEvent is published for payment outcomes and order lifecycle changes.
type CheckoutEvent struct {
	Type           string         `json:"type"`
	PaymentID      string         `json:"payment_id,omitempty"`
	OrderID        string         `json:"order_id,omitempty"`
	OrderNumber    string         `json:"order_number,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Method         string         `json:"method,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	Status         string         `json:"status,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// EventPublisher delivers checkout events. Delivery is best effort.
type EventPublisher interface {
	PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) error
}

func orderStatusEvent(status string) string {
	return "order." + status
}

type eventSink struct {
	publisher EventPublisher
	logger    func(context.Context, string, map[string]any)
}

func (s eventSink) publish(ctx context.Context, event CheckoutEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishCheckoutEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish.failed", map[string]any{
			"type":    event.Type,
			"payment": event.PaymentID,
			"order":   event.OrderID,
			"error":   err.Error(),
		})
	}
}
