package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/checkout-engine"

// CheckoutMetrics holds the counters recorded by the checkout services.
type CheckoutMetrics struct {
	materializations   metric.Int64Counter
	verifyFailures     metric.Int64Counter
	reconciliations    metric.Int64Counter
	fulfillmentChanges metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout instruments on the global meter provider.
func NewCheckoutMetrics() (*CheckoutMetrics, error) {
	return NewCheckoutMetricsWithMeter(otel.Meter(meterName))
}

// NewCheckoutMetricsWithMeter registers the checkout instruments on meter.
func NewCheckoutMetricsWithMeter(meter metric.Meter) (*CheckoutMetrics, error) {
	var (
		m   CheckoutMetrics
		err error
	)
	if m.materializations, err = meter.Int64Counter("checkout.orders.materialized",
		metric.WithDescription("Order materialization attempts by outcome")); err != nil {
		return nil, err
	}
	if m.verifyFailures, err = meter.Int64Counter("checkout.payments.verification_failures",
		metric.WithDescription("Rejected gateway signatures and wallet OTPs")); err != nil {
		return nil, err
	}
	if m.reconciliations, err = meter.Int64Counter("checkout.payments.reconciliation_required",
		metric.WithDescription("Successful payments that could not be materialized")); err != nil {
		return nil, err
	}
	if m.fulfillmentChanges, err = meter.Int64Counter("checkout.orders.transitions",
		metric.WithDescription("Fulfillment state transitions by target status")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Materialized records a materialization outcome (created, existing, failed).
func (m *CheckoutMetrics) Materialized(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.materializations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// VerificationFailed records a rejected signature or OTP.
func (m *CheckoutMetrics) VerificationFailed(ctx context.Context, method, reason string) {
	if m == nil {
		return
	}
	m.verifyFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("reason", reason),
	))
}

// ReconciliationRequired records a captured payment left without an order.
func (m *CheckoutMetrics) ReconciliationRequired(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// OrderTransition records a fulfillment transition.
func (m *CheckoutMetrics) OrderTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.fulfillmentChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
