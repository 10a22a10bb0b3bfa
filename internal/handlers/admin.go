package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/auth"
	"github.com/hanko-field/checkout-engine/internal/platform/httpx"
	"github.com/hanko-field/checkout-engine/internal/services"
)

// AdminHandlers exposes staff endpoints that drive fulfillment and reconciliation.
type AdminHandlers struct {
	authn       *auth.Authenticator
	fulfillment services.FulfillmentService
	payments    services.PaymentService
}

// NewAdminHandlers constructs admin handlers restricted to staff and admin roles.
func NewAdminHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService, payments services.PaymentService) *AdminHandlers {
	return &AdminHandlers{
		authn:       authn,
		fulfillment: fulfillment,
		payments:    payments,
	}
}

// Routes registers admin endpoints under the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	group.Post("/accept", h.acceptOrder)
	group.Post("/assign-shipping", h.assignShipping)
	group.Post("/mark-delivered", h.markDelivered)
	group.Post("/cancel", h.cancelOrder)
	group.Post("/reconcile", h.reconcilePayment)
	group.Get("/orders/{orderID}", h.getOrder)
}

type orderTransitionRequest struct {
	OrderID string `json:"order_id"`
	Notes   string `json:"notes,omitempty"`
}

type assignShippingRequest struct {
	OrderID         string `json:"order_id"`
	ShippingPartner string `json:"shipping_partner"`
	TrackingID      string `json:"tracking_id"`
	Notes           string `json:"notes,omitempty"`
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type reconcileRequest struct {
	PaymentID string `json:"payment_id"`
}

func (h *AdminHandlers) acceptOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req orderTransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.fulfillment.Accept(ctx, services.AcceptOrderCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		ActorID: identity.UID,
		Notes:   req.Notes,
	})
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) assignShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req assignShippingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.fulfillment.AssignShipping(ctx, services.AssignShippingCommand{
		OrderID:         strings.TrimSpace(req.OrderID),
		ActorID:         identity.UID,
		ShippingPartner: strings.TrimSpace(req.ShippingPartner),
		TrackingID:      strings.TrimSpace(req.TrackingID),
		Notes:           req.Notes,
	})
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req orderTransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.fulfillment.MarkDelivered(ctx, services.MarkDeliveredCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		ActorID: identity.UID,
		Notes:   req.Notes,
	})
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.fulfillment.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		ActorID: identity.UID,
		Reason:  req.Reason,
	})
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) reconcilePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.staff(w, r); !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req reconcileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.payments.ReconcilePayment(ctx, strings.TrimSpace(req.PaymentID))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.staff(w, r); !ok {
		return
	}
	order, err := h.fulfillment.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) staff(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !identity.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "staff role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func (h *AdminHandlers) writeOrder(w http.ResponseWriter, r *http.Request, order domain.Order, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
