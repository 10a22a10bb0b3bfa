package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/platform/auth"
	"github.com/hanko-field/checkout-engine/internal/platform/httpx"
	"github.com/hanko-field/checkout-engine/internal/services"
)

// CheckoutHandlers exposes the customer payment endpoints.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards payment creation with the provided idempotency middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// WithCheckoutRateLimit throttles checkout calls per user within the window.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleUser, auth.RoleStaff, auth.RoleAdmin))
	}
	group = group.With(rateLimitMiddleware(h.limiter))

	create := group
	if h.idempotency != nil {
		create = create.With(h.idempotency)
	}
	create.Post("/create-payment-from-cart", h.createPayment)
	group.Post("/retry-gateway", h.retryGateway)

	group.Post("/confirm-hosted-gateway", h.confirmHosted)
	group.Post("/confirm-cod", h.confirmCOD)
	group.Post("/wallet/verify-mobile", h.verifyWalletMobile)
	group.Post("/wallet/verify-otp", h.verifyWalletOTP)
	group.Post("/wallet/debit", h.debitWallet)
	group.Post("/cancel", h.cancelPayment)
	group.Get("/payments/{paymentID}", h.getPayment)
}

type createPaymentRequest struct {
	CartID          string         `json:"cart_id"`
	Method          string         `json:"method"`
	ShippingAddress domain.Address `json:"shipping_address"`
	BillingAddress  domain.Address `json:"billing_address"`
}

type createPaymentResponse struct {
	PaymentID      string `json:"payment_id"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

type confirmHostedRequest struct {
	PaymentID        string `json:"payment_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type confirmCODRequest struct {
	PaymentID string `json:"payment_id"`
	Notes     string `json:"notes,omitempty"`
}

type verifyMobileRequest struct {
	PaymentID string `json:"payment_id"`
	Mobile    string `json:"mobile"`
}

type verifyMobileResponse struct {
	PaymentID string `json:"payment_id"`
	OTPSent   bool   `json:"otp_sent"`
	ExpiresAt string `json:"expires_at"`
}

type verifyOTPRequest struct {
	PaymentID string `json:"payment_id"`
	OTP       string `json:"otp"`
}

type verifyOTPResponse struct {
	PaymentID  string `json:"payment_id"`
	CanProceed bool   `json:"can_proceed"`
}

type paymentRequest struct {
	PaymentID string `json:"payment_id"`
}

type cancelPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason,omitempty"`
}

func (h *CheckoutHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.payments == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CheckoutHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	payment, err := h.payments.CreatePaymentFromCart(ctx, services.CreatePaymentCommand{
		UserID:          identity.UID,
		CartID:          strings.TrimSpace(req.CartID),
		Method:          domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createPaymentResponse{
		PaymentID:      payment.ID,
		GatewayOrderID: derefString(payment.GatewayOrderID),
		Amount:         payment.Amount.StringFixed(2),
		Currency:       payment.Currency,
		Status:         string(payment.Status),
	})
}

func (h *CheckoutHandlers) retryGateway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	payment, err := h.payments.RetryGatewayOrder(ctx, services.RetryGatewayOrderCommand{
		UserID:    identity.UID,
		PaymentID: strings.TrimSpace(req.PaymentID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createPaymentResponse{
		PaymentID:      payment.ID,
		GatewayOrderID: derefString(payment.GatewayOrderID),
		Amount:         payment.Amount.StringFixed(2),
		Currency:       payment.Currency,
		Status:         string(payment.Status),
	})
}

func (h *CheckoutHandlers) confirmHosted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req confirmHostedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.payments.VerifyHostedGatewayPayment(ctx, services.VerifyHostedCommand{
		UserID:           identity.UID,
		PaymentID:        strings.TrimSpace(req.PaymentID),
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) confirmCOD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req confirmCODRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.payments.ConfirmCOD(ctx, services.ConfirmCODCommand{
		UserID:    identity.UID,
		PaymentID: strings.TrimSpace(req.PaymentID),
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) verifyWalletMobile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req verifyMobileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	challenge, err := h.payments.VerifyWalletMobile(ctx, services.VerifyWalletMobileCommand{
		UserID:    identity.UID,
		PaymentID: strings.TrimSpace(req.PaymentID),
		Mobile:    strings.TrimSpace(req.Mobile),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyMobileResponse{
		PaymentID: challenge.PaymentID,
		OTPSent:   challenge.OTPSent,
		ExpiresAt: formatTime(challenge.ExpiresAt),
	})
}

func (h *CheckoutHandlers) verifyWalletOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req verifyOTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	challenge, err := h.payments.VerifyWalletOTP(ctx, services.VerifyWalletOTPCommand{
		UserID:    identity.UID,
		PaymentID: strings.TrimSpace(req.PaymentID),
		OTP:       strings.TrimSpace(req.OTP),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyOTPResponse{
		PaymentID:  challenge.PaymentID,
		CanProceed: challenge.CanProceed,
	})
}

func (h *CheckoutHandlers) debitWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.payments.DebitWallet(ctx, services.DebitWalletCommand{
		UserID:    identity.UID,
		PaymentID: strings.TrimSpace(req.PaymentID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	payment, err := h.payments.CancelPayment(ctx, services.CancelPaymentCommand{
		UserID:    identity.UID,
		PaymentID: strings.TrimSpace(req.PaymentID),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *CheckoutHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	payment, err := h.payments.GetPayment(ctx, identity.UID, paymentID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}
