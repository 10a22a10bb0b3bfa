package handlers

import (
	"context"
	"net/http"
	"testing"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/auth"
	"github.com/hanko-field/checkout-engine/internal/services"
)

var staffMember = &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}

func TestAdminHandlers_Transitions(t *testing.T) {
	var actors []string
	record := func(actor string, status domain.OrderStatus) (domain.Order, error) {
		actors = append(actors, actor)
		order := sampleOrder()
		order.Status = status
		return order, nil
	}
	svc := &stubFulfillmentService{
		acceptFn: func(_ context.Context, cmd services.AcceptOrderCommand) (domain.Order, error) {
			return record(cmd.ActorID, domain.OrderStatusAccepted)
		},
		assignFn: func(_ context.Context, cmd services.AssignShippingCommand) (domain.Order, error) {
			if cmd.ShippingPartner != "BlueDart" || cmd.TrackingID != "BD123" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return record(cmd.ActorID, domain.OrderStatusShippingAssigned)
		},
		deliverFn: func(_ context.Context, cmd services.MarkDeliveredCommand) (domain.Order, error) {
			return record(cmd.ActorID, domain.OrderStatusDelivered)
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			return record(cmd.ActorID, domain.OrderStatusCancelled)
		},
	}
	handler := mount(staffMember, "/admin", NewAdminHandlers(nil, svc, &stubPaymentService{}).Routes)

	steps := []struct {
		path   string
		body   string
		status string
	}{
		{"/admin/accept", `{"order_id":"ord_1","notes":"ok"}`, "accepted"},
		{"/admin/assign-shipping", `{"order_id":"ord_1","shipping_partner":"BlueDart","tracking_id":"BD123"}`, "shipping_assigned"},
		{"/admin/mark-delivered", `{"order_id":"ord_1"}`, "delivered"},
		{"/admin/cancel", `{"order_id":"ord_1","reason":"fraud"}`, "cancelled"},
	}
	for _, step := range steps {
		rr := do(t, handler, http.MethodPost, step.path, step.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", step.path, rr.Code, rr.Body.String())
		}
		order := decodeJSON(t, rr)["order"].(map[string]any)
		if order["status"] != step.status {
			t.Fatalf("%s: expected status %s, got %v", step.path, step.status, order["status"])
		}
	}
	for _, actor := range actors {
		if actor != "staff-1" {
			t.Fatalf("expected actor staff-1, got %q", actor)
		}
	}
}

func TestAdminHandlers_IllegalTransitionIsConflict(t *testing.T) {
	svc := &stubFulfillmentService{
		deliverFn: func(context.Context, services.MarkDeliveredCommand) (domain.Order, error) {
			return domain.Order{}, &services.TransactionError{Op: "fulfillment.mark_delivered", OrderID: "ord_1", Err: services.ErrInvalidStateTransition}
		},
	}
	handler := mount(staffMember, "/admin", NewAdminHandlers(nil, svc, nil).Routes)
	rr := do(t, handler, http.MethodPost, "/admin/mark-delivered", `{"order_id":"ord_1"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	if payload["order_id"] != "ord_1" || payload["error"] != "invalid_state_transition" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestAdminHandlers_RequiresStaffRole(t *testing.T) {
	handler := mount(customer, "/admin", NewAdminHandlers(nil, &stubFulfillmentService{}, nil).Routes)
	rr := do(t, handler, http.MethodPost, "/admin/accept", `{"order_id":"ord_1"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminHandlers_GetOrderAndReconcile(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		getOrderFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord_1" {
				return domain.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}
	payments := &stubPaymentService{
		reconcileFn: func(_ context.Context, paymentID string) (domain.Order, error) {
			if paymentID != "pay_1" {
				t.Fatalf("unexpected payment %q", paymentID)
			}
			return sampleOrder(), nil
		},
	}
	handler := mount(staffMember, "/admin", NewAdminHandlers(nil, fulfillment, payments).Routes)

	if rr := do(t, handler, http.MethodGet, "/admin/orders/ord_1", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodGet, "/admin/orders/ord_x", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(t, handler, http.MethodPost, "/admin/reconcile", `{"payment_id":"pay_1"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
